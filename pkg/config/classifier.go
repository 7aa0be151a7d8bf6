package config

import (
	"context"
	"fmt"
	"os"
)

// ClassifierFile is the optional node classifier looked up in the manifest directory.
const ClassifierFile = "classifier.star"

// Classify runs the classifier script at path for node.
//
// The script sees the globals facts, node and environment, and may export
// classes (a list of strings) and parameters (a dict with string keys):
//
//	def _classes():
//	    found = ["base"]
//	    if facts.get("role") == "web":
//	        found.append("web")
//	    return found
//
//	classes = _classes()
//	parameters = {"motd": "Welcome to " + node}
func (se *StarlarkEvaluator) Classify(ctx context.Context, path string, node Node) (*ClassifierResult, error) {
	script, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read classifier: %w", err)
	}

	facts := node.Facts
	if facts == nil {
		facts = map[string]interface{}{}
	}

	res, err := se.Evaluate(ctx, path, string(script), map[string]interface{}{
		"facts":       facts,
		"node":        node.Name,
		"environment": node.Environment,
	})
	if err != nil {
		return nil, err
	}

	result := &ClassifierResult{
		Classes:    []string{},
		Parameters: map[string]interface{}{},
	}

	if raw, ok := res.Output["classes"]; ok && raw != nil {
		list, ok := raw.([]interface{})
		if !ok {
			return nil, fmt.Errorf("classifier classes must be a list, got %T", raw)
		}
		for i, item := range list {
			class, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("classifier classes[%d] must be a string, got %T", i, item)
			}
			result.Classes = append(result.Classes, class)
		}
	}

	if raw, ok := res.Output["parameters"]; ok && raw != nil {
		params, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("classifier parameters must be a dict, got %T", raw)
		}
		result.Parameters = params
	}

	return result, nil
}
