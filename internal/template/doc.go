// Package template evaluates the property templates of a policy.
//
// A template is a list of "key=value" lines. Values may reference trigger
// attributes with {name}:
//
//	port={port}                 -> 5432 (type of the attribute kept)
//	url=http://{host}:{port}/   -> "http://db1:5432/"
//	name=static                 -> "static"
//
// Shared records are templated against an Aggregate, whose references are
// the array:, concat: and count directives instead of attribute names.
package template
