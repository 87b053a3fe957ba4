package main

//go:generate swag init -g cmd/server/main.go -o docs

// @title           Autopilot Strategy Scheduler API
// @version         0.1.0
// @description     Strategy triggers, execution lifecycle, and smart session management.
// @host            localhost:8080
// @BasePath        /
// @schemes         http
