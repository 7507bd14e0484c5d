package common

// StringArg returns the named string argument, or "" when it is missing
// or not a string.
func StringArg(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return s
}

// BoolArg returns the named boolean argument, or def when it is missing
// or not a boolean.
func BoolArg(args map[string]any, name string, def bool) bool {
	if b, ok := args[name].(bool); ok {
		return b
	}
	return def
}
