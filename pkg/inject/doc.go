// Package inject evaluates rule-author supplied logic in an isolated scope.
//
// Every evaluation sees an explicit, narrow binding set and nothing else: no
// engine closures, repositories or transports are reachable from injected
// source. Injection is refused outright unless Config.AllowInjection is set.
//
// Two languages are supported:
//
//   - expr (default): an expr-lang expression. Bindings are top-level
//     variables, e.g. {"statusCode": 200, "body": request.path}
//   - go: Go source interpreted by yaegi with a restricted stdlib. The source
//     defines an entry function taking config map[string]interface{}, e.g.
//     func Respond(config map[string]interface{}) interface{}
//
// Go source is recognized by a leading "package" or "func" keyword unless
// Config.Language forces a language.
//
// # Dynamic Responses
//
// Evaluator binds request (a clone), state, logger, callback and the empty
// legacy imposterState. The response is the value the logic returns or, if
// it returns nil, the first value passed to callback. Dry-run requests never
// execute the logic.
package inject
