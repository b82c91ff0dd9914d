/*
Package config loads relay settings from files and the environment.

# Overview

Config wraps the map decoded from a YAML or JSON file and provides typed
accessors that return a default when a key is missing or has the wrong type.
Settings is the typed result the CLI and embedding programs consume.

# Basic Usage

	settings, err := config.Load("relay.yaml")
	if err != nil {
	    return err
	}
	m := relay.New(transport, relay.WithTimeout(settings.RequestTimeout))

Load applies, in order:
  - DefaultSettings
  - the file, if a path is given (.yaml, .yml or .json)
  - RELAY_* environment variables, parsed with caarlos0/env

An environment variable that is unset leaves the earlier value alone.

# Durations

Duration accepts a time.ParseDuration string ("250ms", "5s") or a bare
number of milliseconds. RELAY_REQUEST_TIMEOUT must use the string form.

# Thread Safety

Config is safe for concurrent read access. The underlying map is not
modified after creation.
*/
package config
