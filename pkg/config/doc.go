/*
Package config loads the hub's YAML configuration. A missing file yields
defaults; Validate enforces the required hub secret and prepares the data
directory.
*/
package config
