// Package config compiles CUE manifests into catalogs.
//
// A manifest directory holds any number of .cue files and an optional
// classifier.star. The files are unified into one value with the shape
//
//	version?:  string
//	classes?:  [...string]
//	resources: {[title=string]: #Resource} | [...#Resource]
//
// where a resource is
//
//	{type: "file", title?: "/etc/motd", parameters?: {...},
//	 requires?: ["file[/etc]"], before?: ["exec[reload]"], tags?: [...]}
//
// Manifests can refer to facts, node and classifier, which the Compiler puts in
// scope before compiling:
//
//	resources: "/etc/motd": {
//	    type: "file"
//	    parameters: content: "Welcome to \(node.name) running \(facts.os)\n"
//	}
//
// The classifier is a Starlark script run by StarlarkEvaluator before the
// manifests are compiled. It reads facts and node and exports classes and
// parameters.
//
// Problems found while compiling are collected as ManifestError values and
// returned together in one engine ConfigurationError, so a broken manifest
// directory reports every mistake at once.
package config
