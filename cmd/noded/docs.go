package main

// General API documentation for swaggo, read by the swag generator.
//
// @title           noded admin API
// @version         1.0
// @description     Operator-facing HTTP API for node and application status, health checks, and slave despawn.
//
// @contact.name   noded maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
