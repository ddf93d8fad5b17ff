// Package app contains the core application logic. It defines the main App
// struct, wires the store, fetcher, module cache, compiler and transport
// together from the worker configuration, and owns the process lifecycle,
// decoupled from any specific entrypoint like a CLI or server.
package app
