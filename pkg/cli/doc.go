// Package cli implements the imposter command line.
//
// Commands register themselves on the root command from their init
// functions:
//
//	imposter serve --config imposters.yaml --allow-injection
//	imposter serve -c 'imposters/**/*.yaml' --watch
//	imposter validate --config ./imposters/
//	imposter version --json
package cli
