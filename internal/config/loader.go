package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a job manifest from the provided path.
func Load(path string) (*Manifest, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve manifest path: %w", err)
	}

	f, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	var doc Manifest
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", absPath, err)
	}

	manifestDir := filepath.Dir(absPath)
	rootWorkdir := resolveWorkdir(manifestDir, os.ExpandEnv(doc.Workdir))
	doc.Workdir = rootWorkdir

	if len(doc.Jobs) == 0 {
		return nil, fmt.Errorf("%s: no jobs defined", absPath)
	}

	for name, job := range doc.Jobs {
		if err := job.Validate(name); err != nil {
			return nil, fmt.Errorf("%s: %w", absPath, err)
		}

		job.ResolvedWorkdir = rootWorkdir
		if job.Workdir != "" {
			job.ResolvedWorkdir = resolveWorkdir(rootWorkdir, os.ExpandEnv(job.Workdir))
		}

		var inlineEnv map[string]string
		if len(job.Env) > 0 {
			inlineEnv = make(map[string]string, len(job.Env))
			for k, v := range job.Env {
				inlineEnv[k] = os.ExpandEnv(v)
			}
		}

		var fileEnv map[string]string
		if job.EnvFromFile != "" {
			expanded := os.ExpandEnv(job.EnvFromFile)
			if !filepath.IsAbs(expanded) {
				expanded = filepath.Clean(filepath.Join(job.ResolvedWorkdir, expanded))
			}
			job.EnvFromFile = expanded

			fileEnv, err = loadEnvFile(expanded)
			if err != nil {
				return nil, fmt.Errorf("job %s: envFromFile: %w", name, err)
			}
		}

		job.Env = mergeEnv(fileEnv, inlineEnv)

		for _, target := range []*string{&job.Stdout, &job.Stderr, &job.Lock} {
			if *target == "" {
				continue
			}
			expanded := os.ExpandEnv(*target)
			if !filepath.IsAbs(expanded) {
				expanded = filepath.Clean(filepath.Join(job.ResolvedWorkdir, expanded))
			}
			*target = expanded
		}
	}

	return &doc, nil
}

// mergeEnv overlays inline entries on top of file entries. Inline wins.
func mergeEnv(fileEnv, inlineEnv map[string]string) map[string]string {
	if len(fileEnv) == 0 && len(inlineEnv) == 0 {
		return nil
	}
	merged := make(map[string]string, len(fileEnv)+len(inlineEnv))
	for k, v := range fileEnv {
		merged[k] = v
	}
	for k, v := range inlineEnv {
		merged[k] = v
	}
	return merged
}

func resolveWorkdir(base, dir string) string {
	if dir == "" {
		return base
	}
	if filepath.IsAbs(dir) {
		return filepath.Clean(dir)
	}
	return filepath.Clean(filepath.Join(base, dir))
}

// loadEnvFile parses KEY=VALUE lines, skipping blanks and comments.
func loadEnvFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open env file: %w", err)
	}
	defer f.Close()

	env := make(map[string]string)
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		key, value, ok := strings.Cut(text, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("%s:%d: malformed entry %q", path, line, text)
		}
		env[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read env file: %w", err)
	}
	return env, nil
}
