// Package scanner guesses the entrypoint and interpreter of a project
// folder.
package scanner

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// DefaultMaxDepth bounds the recursive searches.
const DefaultMaxDepth = 5

// entryPatterns are checked in order in every folder.
var entryPatterns = []string{
	"main.py", "bot.py", "app.py", "run.py", "__main__.py", "index.py", "server.py", "cli.py",
	"index.js", "app.js", "server.js", "main.js", "bot.js",
	"main.go",
	"index.php", "app.php",
	"main.rb", "app.rb",
}

var skipFolders = map[string]bool{
	".git": true, ".venv": true, "venv": true, "env": true, ".env": true,
	"node_modules": true, "__pycache__": true, ".pytest_cache": true, ".mypy_cache": true,
	"dist": true, "build": true, ".tox": true, "eggs": true,
}

var venvNames = []string{".venv", "venv", "env", ".env"}

// venvInterpreters are relative to a virtualenv folder.
var venvInterpreters = []string{
	filepath.Join("Scripts", "python.exe"),
	filepath.Join("bin", "python3"),
	filepath.Join("bin", "python"),
}

var languages = map[string]string{
	".py": "python", ".js": "javascript", ".ts": "typescript", ".go": "go",
	".php": "php", ".rb": "ruby", ".java": "java",
}

// defaultInterpreters are used when no virtualenv is found.
var defaultInterpreters = map[string]string{
	"python": "python3", "javascript": "node", "php": "php", "ruby": "ruby",
}

// Result holds what Scan detected. Entrypoint is relative to the folder,
// Interpreter is absolute when it came from a virtualenv.
type Result struct {
	Entrypoint  string  `json:"entrypoint,omitempty"`
	Interpreter string  `json:"interpreter,omitempty"`
	Language    string  `json:"language,omitempty"`
	Confidence  float64 `json:"confidence"`
	Source      string  `json:"source,omitempty"`
}

// Scanner detects project layouts.
type Scanner struct {
	MaxDepth int
	Logger   *slog.Logger
}

func New(logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{MaxDepth: DefaultMaxDepth, Logger: logger.With("component", "scanner")}
}

// Scan inspects dir: config files first, then root patterns, then a
// recursive search. The interpreter comes from a virtualenv when one
// exists, otherwise from the detected language.
func (s *Scanner) Scan(dir string) (Result, error) {
	st, err := os.Stat(dir)
	if err != nil {
		return Result{}, err
	}
	if !st.IsDir() {
		return Result{}, fmt.Errorf("%s is not a directory", dir)
	}

	res := s.scanConfig(dir)
	if res.Entrypoint == "" {
		if e := findInFolder(dir); e != "" {
			res.Entrypoint, res.Confidence, res.Source = e, 0.9, "root"
		}
	}
	if res.Entrypoint == "" {
		if e := s.findRecursive(dir, 0); e != "" {
			res.Entrypoint, res.Confidence, res.Source = e, 0.7, "search"
		}
	}
	if res.Entrypoint != "" {
		if lang := languages[strings.ToLower(filepath.Ext(res.Entrypoint))]; lang != "" {
			res.Language = lang
		}
	}
	if interp := s.findInterpreter(dir); interp != "" {
		res.Interpreter = interp
	} else if res.Language != "" {
		res.Interpreter = defaultInterpreters[res.Language]
	}
	s.Logger.Debug("scanned", "dir", dir, "entrypoint", res.Entrypoint, "interpreter", res.Interpreter, "source", res.Source)
	return res, nil
}

type packageJSON struct {
	Main string `json:"main"`
}

type pyproject struct {
	Project struct {
		Scripts map[string]string `toml:"scripts"`
	} `toml:"project"`
	Tool struct {
		Poetry struct {
			Scripts map[string]string `toml:"scripts"`
		} `toml:"poetry"`
	} `toml:"tool"`
}

func (s *Scanner) scanConfig(dir string) Result {
	if b, err := os.ReadFile(filepath.Join(dir, "package.json")); err == nil {
		var pj packageJSON
		if err := json.Unmarshal(b, &pj); err != nil {
			s.Logger.Debug("unreadable package.json", "dir", dir, "error", err)
		} else if pj.Main != "" {
			return Result{Entrypoint: filepath.FromSlash(pj.Main), Language: "javascript", Confidence: 1, Source: "package.json"}
		}
	}
	b, err := os.ReadFile(filepath.Join(dir, "pyproject.toml"))
	if err != nil {
		return Result{}
	}
	var pp pyproject
	if err := toml.Unmarshal(b, &pp); err != nil {
		s.Logger.Debug("unreadable pyproject.toml", "dir", dir, "error", err)
		return Result{}
	}
	scripts := pp.Project.Scripts
	if len(scripts) == 0 {
		scripts = pp.Tool.Poetry.Scripts
	}
	if len(scripts) == 0 {
		return Result{}
	}
	res := Result{Language: "python", Source: "pyproject.toml"}
	names := make([]string, 0, len(scripts))
	for n := range scripts {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if e := moduleFile(dir, scripts[n]); e != "" {
			res.Entrypoint, res.Confidence = e, 0.95
			return res
		}
	}
	return res
}

// moduleFile maps a "pkg.module:func" script target to pkg/module.py or
// pkg/module/__main__.py, looking in dir and dir/src.
func moduleFile(dir, target string) string {
	mod, _, _ := strings.Cut(target, ":")
	mod = strings.TrimSpace(mod)
	if mod == "" {
		return ""
	}
	rel := strings.ReplaceAll(mod, ".", "/")
	for _, root := range []string{"", "src"} {
		for _, cand := range []string{rel + ".py", path.Join(rel, "__main__.py")} {
			p := filepath.FromSlash(path.Join(root, cand))
			if isFile(filepath.Join(dir, p)) {
				return p
			}
		}
	}
	return ""
}

func findInFolder(dir string) string {
	for _, p := range entryPatterns {
		if isFile(filepath.Join(dir, p)) {
			return p
		}
	}
	return ""
}

func skipped(name string) bool {
	return skipFolders[name] || strings.HasSuffix(name, ".egg-info")
}

// findRecursive returns the first entry file below dir, relative to dir.
// Subfolders are visited in name order.
func (s *Scanner) findRecursive(dir string, depth int) string {
	if depth >= s.maxDepth() {
		return ""
	}
	subdirs := readSubdirs(dir)
	for _, name := range subdirs {
		if skipped(name) {
			continue
		}
		sub := filepath.Join(dir, name)
		if e := findInFolder(sub); e != "" {
			return filepath.Join(name, e)
		}
		if deeper := s.findRecursive(sub, depth+1); deeper != "" {
			return filepath.Join(name, deeper)
		}
	}
	return ""
}

func (s *Scanner) findInterpreter(dir string) string {
	for _, v := range venvNames {
		if p := venvInterpreter(filepath.Join(dir, v)); p != "" {
			return p
		}
	}
	return s.findInterpreterRecursive(dir, 0)
}

func (s *Scanner) findInterpreterRecursive(dir string, depth int) string {
	if depth >= s.maxDepth() {
		return ""
	}
	for _, name := range readSubdirs(dir) {
		if name == ".git" || name == "node_modules" || name == "__pycache__" {
			continue
		}
		sub := filepath.Join(dir, name)
		if p := venvInterpreter(sub); p != "" {
			return p
		}
		if skipped(name) {
			continue
		}
		if p := s.findInterpreterRecursive(sub, depth+1); p != "" {
			return p
		}
	}
	return ""
}

func venvInterpreter(dir string) string {
	for _, rel := range venvInterpreters {
		p := filepath.Join(dir, rel)
		if isFile(p) {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}
	return ""
}

func (s *Scanner) maxDepth() int {
	if s.MaxDepth <= 0 {
		return DefaultMaxDepth
	}
	return s.MaxDepth
}

var scriptExts = map[string]bool{".py": true, ".js": true, ".ts": true, ".go": true, ".php": true, ".rb": true}

// ListScripts returns every script file up to maxDepth folders deep,
// relative to dir with forward slashes.
func ListScripts(dir string, maxDepth int) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrPermission) {
				return nil
			}
			return err
		}
		rel, _ := filepath.Rel(dir, p)
		if d.IsDir() {
			if p == dir {
				return nil
			}
			if skipped(d.Name()) || strings.Count(filepath.ToSlash(rel), "/") >= maxDepth {
				return filepath.SkipDir
			}
			return nil
		}
		if scriptExts[strings.ToLower(filepath.Ext(p))] {
			out = append(out, filepath.ToSlash(rel))
		}
		return nil
	})
	return out, err
}

func readSubdirs(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out
}

func isFile(p string) bool {
	st, err := os.Stat(p)
	return err == nil && st.Mode().IsRegular()
}
