// Package config loads the monitor configuration from an optional YAML file
// and CELERY_* style environment variables, then fills defaults and
// validates the result before any connection is opened.
package config
