package siut

// builtinFunctions lists Python builtins whose direct call emits a
// model.BuiltinPackage Call record per the emission policy (4.1).
var builtinFunctions = map[string]bool{
	"eval": true, "exec": true, "compile": true, "__import__": true,
	"open": true, "input": true, "print": true, "getattr": true,
	"setattr": true, "hasattr": true, "delattr": true, "globals": true,
	"locals": true, "vars": true, "len": true, "repr": true, "format": true,
	"int": true, "float": true, "str": true, "bytes": true, "bool": true,
	"list": true, "dict": true, "set": true, "tuple": true, "frozenset": true,
	"iter": true, "next": true, "range": true, "enumerate": true, "zip": true,
	"map": true, "filter": true, "sorted": true, "reversed": true, "sum": true,
	"min": true, "max": true, "abs": true, "round": true, "pow": true,
	"divmod": true, "isinstance": true, "issubclass": true, "super": true,
	"type": true, "id": true, "hash": true, "callable": true, "property": true,
	"staticmethod": true, "classmethod": true, "object": true,
}

// builtinModules lists names that resolve to a builtin module rather than a
// project import, so that `os.system(...)` classifies as built_in when `os`
// was never seen in an import statement.
var builtinModules = map[string]bool{
	"os": true, "sys": true, "subprocess": true, "pickle": true,
	"marshal": true, "shutil": true, "tempfile": true, "socket": true,
	"re": true, "json": true, "base64": true, "hashlib": true,
	"sqlite3": true, "string": true, "functools": true, "itertools": true,
}

func isBuiltinFunction(name string) bool {
	return builtinFunctions[name]
}

func isBuiltinModule(name string) bool {
	return builtinModules[name]
}
