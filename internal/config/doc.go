// Package config defines the application configuration structures and
// loading logic for the visiarch API server.
package config
