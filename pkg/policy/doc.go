// Package policy gates compiled catalogs with Open Policy Agent (OPA) policies.
//
// Every policy is a Rego module defining a deny set. The input document is the
// catalog being compiled:
//
//	{
//	  "node": "web-1",
//	  "environment": "production",
//	  "version": "1767323045",
//	  "classes": ["base", "web"],
//	  "resources": [
//	    {"type": "file", "title": "/etc/motd", "ref": "file[/etc/motd]",
//	     "parameters": {"content": "hello"}, "requires": [], "tags": ["base"]}
//	  ],
//	  "edges": [{"source": "file[/etc/motd]", "target": "exec[reload]"}]
//	}
//
// Each deny entry is either a string or an object with message, resource and
// an optional severity overriding the policy's own:
//
//	package site.catalog.packages
//
//	import rego.v1
//
//	deny contains violation if {
//	    some resource in input.resources
//	    resource.type == "exec"
//	    contains(resource.parameters.command, "curl | sh")
//	    violation := {
//	        "message": "piping downloads into a shell is not allowed",
//	        "resource": resource.ref,
//	    }
//	}
//
// Violations of severity error or critical reject the catalog; Gate returns a
// configuration error with code POLICY_VIOLATION that aggregates all of them.
// Info and warning violations are only logged.
//
// Custom policies are loaded from .rego files (severity from a leading
// "# severity: error" comment, warning otherwise) or .json policy definitions.
// Loader.Watch reloads them when the policy directory changes; built-in
// policies always stay loaded.
package policy
