package main

// General API documentation for swaggo. Build with -tags=swagger to serve
// the rendered docs under /docs.
//
// @title           inferd API
// @version         1.0
// @description     HTTP API for hosting local LLM models: lifecycle, activation and token-streaming inference.
//
// @contact.name   inferd maintainers
//
// @BasePath  /
//
// @schemes http
