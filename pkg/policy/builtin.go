package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		execCommandPolicy(),
		filePathPolicy(),
		fileModePolicy(),
		resourceTitlePolicy(),
	}
}

// execCommandPolicy requires every exec resource to declare a command.
func execCommandPolicy() Policy {
	return Policy{
		Name:        "exec-command",
		Description: "Exec resources must declare a non-empty command",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"exec"},
		Rego: `package froyo.catalog.exec

import rego.v1

deny contains violation if {
	some resource in input.resources
	resource.type == "exec"
	not has_command(resource)
	violation := {
		"message": sprintf("%s must declare a command", [resource.ref]),
		"resource": resource.ref,
	}
}

has_command(resource) if {
	is_string(resource.parameters.command)
	trim_space(resource.parameters.command) != ""
}
`,
	}
}

// filePathPolicy requires file resources to manage absolute paths.
func filePathPolicy() Policy {
	return Policy{
		Name:        "file-path",
		Description: "File resources must manage an absolute path",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"file"},
		Rego: `package froyo.catalog.file.path

import rego.v1

deny contains violation if {
	some resource in input.resources
	resource.type == "file"
	path := object.get(resource.parameters, "path", resource.title)
	not absolute(path)
	violation := {
		"message": sprintf("%s must manage an absolute path", [resource.ref]),
		"resource": resource.ref,
	}
}

absolute(path) if {
	is_string(path)
	startswith(path, "/")
}
`,
	}
}

// fileModePolicy warns about file modes that are not octal permission strings.
func fileModePolicy() Policy {
	return Policy{
		Name:        "file-mode",
		Description: "File modes should be octal permission strings such as \"0644\"",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"file"},
		Rego: `package froyo.catalog.file.mode

import rego.v1

deny contains violation if {
	some resource in input.resources
	resource.type == "file"
	mode := resource.parameters.mode
	not octal(mode)
	violation := {
		"message": sprintf("%s has mode %v, expected an octal string", [resource.ref, mode]),
		"resource": resource.ref,
	}
}

octal(mode) if {
	is_string(mode)
	regex.match("^0?[0-7]{3}$", mode)
}
`,
	}
}

// resourceTitlePolicy flags titles with surrounding whitespace, which are almost
// always a manifest typo and make references hard to match.
func resourceTitlePolicy() Policy {
	return Policy{
		Name:        "resource-title",
		Description: "Resource titles must not carry leading or trailing whitespace",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"naming"},
		Rego: `package froyo.catalog.title

import rego.v1

deny contains violation if {
	some resource in input.resources
	trim_space(resource.title) != resource.title
	violation := {
		"message": sprintf("%s has surrounding whitespace in its title", [resource.ref]),
		"resource": resource.ref,
	}
}
`,
	}
}
