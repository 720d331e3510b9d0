// Package config loads imposter definitions and engine settings.
//
// A configuration file lists the imposters to start and, optionally, engine
// settings:
//
//	engine:
//	  adminPort: 2525
//	  injection:
//	    allow: true
//	imposters:
//	  - port: 4545
//	    stubs:
//	      - predicates:
//	          - equals: {path: /health}
//	        responses:
//	          - is: {statusCode: 200, body: ok}
//	      - responses:
//	          - proxy:
//	              to: https://api.example.com
//	              mode: proxyAlways
//	              predicateGenerators:
//	                - matches: {method: true, path: true}
//
// Files ending in .yaml or .yml are read as YAML, everything else as JSON.
// Load also accepts a directory and merges the files directly inside it, or
// a glob such as "imposters/**/*.yaml". Every document is checked against the
// embedded JSON Schema before decoding. Watcher reloads a path on change.
package config
