package planner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

func WritePlan(path string, plan Plan) error {
	return writeJSON(path, plan)
}

func LoadPlan(path string) (Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, fmt.Errorf("read plan: %w", err)
	}
	var plan Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return Plan{}, fmt.Errorf("parse plan json: %w", err)
	}
	if err := ValidatePlan(plan); err != nil {
		return Plan{}, err
	}
	return plan, nil
}

func WriteResult(path string, result RunResult) error {
	return writeJSON(path, result)
}

func LoadResult(path string) (RunResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RunResult{}, fmt.Errorf("read result: %w", err)
	}
	var result RunResult
	if err := json.Unmarshal(data, &result); err != nil {
		return RunResult{}, fmt.Errorf("parse result json: %w", err)
	}
	if !result.Mode.Valid() {
		return RunResult{}, fmt.Errorf("result mode %q is invalid", result.Mode)
	}
	return result, nil
}

// ResolvePlanPath accepts either a plan file or a directory holding plan.json.
func ResolvePlanPath(inputPath string) (string, error) {
	return resolveDocPath(inputPath, "plan.json")
}

// ResolveResultPath accepts either a result file or a directory holding result.json.
func ResolveResultPath(inputPath string) (string, error) {
	return resolveDocPath(inputPath, "result.json")
}

func resolveDocPath(inputPath, name string) (string, error) {
	if inputPath == "" {
		return "", fmt.Errorf("%s path is required", name)
	}
	info, err := os.Stat(inputPath)
	if err != nil {
		return "", fmt.Errorf("stat %s path: %w", name, err)
	}
	if info.IsDir() {
		return filepath.Join(inputPath, name), nil
	}
	return inputPath, nil
}

func writeJSON(path string, v any) error {
	if path == "" {
		return fmt.Errorf("output path is required")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
