// Package hookconfig parses repository hook configuration files into hooks
// and reports every problem it finds as a positioned annotation.
package hookconfig

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ericfisherdev/hookrelay/internal/domain/model"
)

// File is the raw content of one configuration file.
type File struct {
	Path    string
	Content []byte
}

// Result holds the hooks parsed from one or more files and the violations
// found in them. Hooks are only meaningful when Valid reports true.
type Result struct {
	Hooks       []model.Hook
	Annotations []model.Annotation
}

// Valid reports whether no failure-level annotation was produced.
func (r Result) Valid() bool {
	for _, a := range r.Annotations {
		if a.Level == model.AnnotationFailure {
			return false
		}
	}
	return true
}

// Target identifies where parsed hooks will live.
type Target struct {
	RepoFullName string
	Branch       string // Empty for hooks parsed from a pull request diff.
}

const (
	keyNamespace    = "namespace"
	keyModule       = "module"
	keySharedParams = "sharedParams"

	keyName                     = "name"
	keyPipelineName             = "pipelineName"
	keyPipelineRef              = "pipelineRef"
	keyPipelineParams           = "pipelineParams"
	keyFileChangesMatcher       = "fileChangesMatcher"
	keyDestinationBranchMatcher = "destinationBranchMatcher"
	keySlashCommand             = "slashCommand"
)

var yamlLineRe = regexp.MustCompile(`line (\d+)`)

// ParseFiles parses every file and additionally reports pipeline unique
// prefixes declared more than once across the whole set.
func ParseFiles(target Target, files []File) Result {
	return ParseFilesWith(target, files, nil)
}

// Declaration is a pipeline unique prefix declared outside the parsed files,
// typically by a persisted hook whose configuration file is unchanged.
type Declaration struct {
	Prefix string
	Path   string
}

// ParseFilesWith is ParseFiles where the prefixes in existing are already
// taken. Redeclaring one of them is reported as a duplicate.
func ParseFilesWith(target Target, files []File, existing []Declaration) Result {
	var res Result
	seen := make(map[string]declaration, len(existing))
	for _, d := range existing {
		if _, ok := seen[d.Prefix]; !ok {
			seen[d.Prefix] = declaration{path: d.Path}
		}
	}
	for _, f := range files {
		r := parse(target, f, seen)
		res.Hooks = append(res.Hooks, r.Hooks...)
		res.Annotations = append(res.Annotations, r.Annotations...)
	}
	return res
}

// Parse parses a single configuration file.
func Parse(target Target, f File) Result {
	return parse(target, f, make(map[string]declaration))
}

func parse(target Target, f File, seen map[string]declaration) Result {
	p := &parser{target: target, path: f.Path, seen: seen}

	var doc yaml.Node
	if err := yaml.Unmarshal(f.Content, &doc); err != nil {
		p.failAt(yamlErrorLine(err), 1, fmt.Sprintf("invalid YAML: %s", strings.TrimPrefix(err.Error(), "yaml: ")))
		return p.result()
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		p.failAt(1, 1, "configuration file is empty")
		return p.result()
	}

	p.parseRoot(doc.Content[0])
	return p.result()
}

type parser struct {
	target      Target
	path        string
	hooks       []model.Hook
	annotations []model.Annotation
	seen        map[string]declaration
}

// declaration records where a pipeline unique prefix was first declared.
// line is zero when only the file is known.
type declaration struct {
	path string
	line int
}

func (d declaration) String() string {
	if d.line == 0 {
		return d.path
	}
	return fmt.Sprintf("%s on line %d", d.path, d.line)
}

func (p *parser) result() Result {
	return Result{Hooks: p.hooks, Annotations: p.annotations}
}

func (p *parser) parseRoot(root *yaml.Node) {
	if root.Kind != yaml.MappingNode {
		p.fail(root, "configuration must be a mapping")
		return
	}

	fields := mappingFields(root)
	namespace := p.requiredString(root, fields, keyNamespace)
	module := p.requiredString(root, fields, keyModule)
	shared := p.params(fields[keySharedParams])

	for _, kv := range pairs(root) {
		switch kv.key.Value {
		case keyNamespace, keyModule, keySharedParams:
			continue
		}
		hookType := model.HookType(kv.key.Value)
		if !hookType.Valid() {
			p.fail(kv.key, fmt.Sprintf("unknown key %q; expected one of %s", kv.key.Value, hookTypeList()))
			continue
		}
		if kv.value.Kind != yaml.SequenceNode {
			p.fail(kv.value, fmt.Sprintf("%s must be a list of hooks", hookType))
			continue
		}
		for _, rule := range kv.value.Content {
			p.parseRule(hookType, namespace, module, shared, rule)
		}
	}
}

func (p *parser) parseRule(hookType model.HookType, namespace, module string, shared model.Params, rule *yaml.Node) {
	if rule.Kind != yaml.MappingNode {
		p.fail(rule, "hook must be a mapping")
		return
	}
	fields := mappingFields(rule)

	before := len(p.annotations)
	name := p.requiredString(rule, fields, keyName)
	pipelineName := p.requiredString(rule, fields, keyPipelineName)
	pipelineRef := p.optionalString(fields, keyPipelineRef)
	params := p.params(fields[keyPipelineParams])
	matchers := p.matchers(rule, fields)

	var destination, command *string
	switch hookType {
	case model.HookTypeOnBranchMerge:
		if v := p.requiredString(rule, fields, keyDestinationBranchMatcher); v != "" {
			destination = model.Ptr(v)
		}
	case model.HookTypeOnSlashCommand:
		if v := p.requiredString(rule, fields, keySlashCommand); v != "" {
			command = model.Ptr(NormalizeCommand(v))
		}
	}

	for _, kv := range pairs(rule) {
		if !knownRuleKey(kv.key.Value) {
			p.warn(kv.key, fmt.Sprintf("unknown hook key %q is ignored", kv.key.Value))
		}
	}

	if len(p.annotations) > before && !(Result{Annotations: p.annotations[before:]}).Valid() {
		return
	}
	if namespace == "" || module == "" {
		return
	}

	prefix := model.UniquePrefix(namespace, module, name)
	if prev, dup := p.seen[prefix]; dup {
		p.fail(fields[keyName], fmt.Sprintf("duplicate pipeline %q, first declared in %s", prefix, prev))
		return
	}
	p.seen[prefix] = declaration{path: p.path, line: fields[keyName].Line}

	for _, m := range matchers {
		p.hooks = append(p.hooks, model.Hook{
			RepoFullName:             p.target.RepoFullName,
			Branch:                   p.target.Branch,
			HookType:                 hookType,
			HookName:                 name,
			PathToConfigFile:         p.path,
			PipelineUniquePrefix:     prefix,
			PipelineName:             pipelineName,
			PipelineRef:              pipelineRef,
			PipelineParams:           params.Clone(),
			SharedParams:             shared.Clone(),
			FileChangesMatcher:       m,
			DestinationBranchMatcher: destination,
			SlashCommand:             command,
		})
	}
}

func (p *parser) matchers(rule *yaml.Node, fields map[string]*yaml.Node) []string {
	node, ok := fields[keyFileChangesMatcher]
	if !ok {
		p.fail(rule, fmt.Sprintf("missing required key %q", keyFileChangesMatcher))
		return nil
	}

	switch node.Kind {
	case yaml.ScalarNode:
		if node.Value == "" {
			p.fail(node, fmt.Sprintf("%s must not be empty", keyFileChangesMatcher))
			return nil
		}
		return []string{node.Value}
	case yaml.SequenceNode:
		if len(node.Content) == 0 {
			p.fail(node, fmt.Sprintf("%s must not be empty", keyFileChangesMatcher))
			return nil
		}
		out := make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode || item.Value == "" {
				p.fail(item, fmt.Sprintf("%s entries must be non-empty strings", keyFileChangesMatcher))
				continue
			}
			out = append(out, item.Value)
		}
		return out
	default:
		p.fail(node, fmt.Sprintf("%s must be a string or a list of strings", keyFileChangesMatcher))
		return nil
	}
}

func (p *parser) params(node *yaml.Node) model.Params {
	if node == nil {
		return nil
	}
	if node.Kind != yaml.MappingNode {
		p.fail(node, "parameters must be a mapping of names to values")
		return nil
	}
	var out model.Params
	for _, kv := range pairs(node) {
		if kv.value.Kind != yaml.ScalarNode {
			p.fail(kv.value, fmt.Sprintf("parameter %q must be a scalar value", kv.key.Value))
			continue
		}
		out = out.Set(kv.key.Value, kv.value.Value)
	}
	return out
}

func (p *parser) requiredString(parent *yaml.Node, fields map[string]*yaml.Node, key string) string {
	node, ok := fields[key]
	if !ok {
		p.fail(parent, fmt.Sprintf("missing required key %q", key))
		return ""
	}
	if node.Kind != yaml.ScalarNode || node.Value == "" {
		p.fail(node, fmt.Sprintf("%q must be a non-empty string", key))
		return ""
	}
	return node.Value
}

func (p *parser) optionalString(fields map[string]*yaml.Node, key string) *string {
	node, ok := fields[key]
	if !ok {
		return nil
	}
	if node.Kind != yaml.ScalarNode {
		p.fail(node, fmt.Sprintf("%q must be a string", key))
		return nil
	}
	if node.Value == "" {
		return nil
	}
	return model.Ptr(node.Value)
}

func (p *parser) fail(node *yaml.Node, msg string) {
	p.annotate(node, model.AnnotationFailure, msg)
}

func (p *parser) warn(node *yaml.Node, msg string) {
	p.annotate(node, model.AnnotationWarning, msg)
}

func (p *parser) annotate(node *yaml.Node, level model.AnnotationLevel, msg string) {
	line, col := node.Line, node.Column
	if line < 1 {
		line, col = 1, 1
	}
	endCol := col
	if node.Kind == yaml.ScalarNode && len(node.Value) > 0 {
		endCol = col + len(node.Value) - 1
	}
	p.annotations = append(p.annotations, model.Annotation{
		Path:        p.path,
		Level:       level,
		Message:     msg,
		StartLine:   line,
		EndLine:     line,
		StartColumn: col,
		EndColumn:   endCol,
	})
}

func (p *parser) failAt(line, col int, msg string) {
	p.annotations = append(p.annotations, model.Annotation{
		Path:        p.path,
		Level:       model.AnnotationFailure,
		Message:     msg,
		StartLine:   line,
		EndLine:     line,
		StartColumn: col,
		EndColumn:   col,
	})
}

type pair struct {
	key, value *yaml.Node
}

func pairs(mapping *yaml.Node) []pair {
	out := make([]pair, 0, len(mapping.Content)/2)
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		out = append(out, pair{key: mapping.Content[i], value: mapping.Content[i+1]})
	}
	return out
}

func mappingFields(mapping *yaml.Node) map[string]*yaml.Node {
	fields := make(map[string]*yaml.Node, len(mapping.Content)/2)
	for _, kv := range pairs(mapping) {
		fields[kv.key.Value] = kv.value
	}
	return fields
}

func knownRuleKey(key string) bool {
	switch key {
	case keyName, keyPipelineName, keyPipelineRef, keyPipelineParams,
		keyFileChangesMatcher, keyDestinationBranchMatcher, keySlashCommand:
		return true
	}
	return false
}

func hookTypeList() string {
	names := make([]string, len(model.HookTypes))
	for i, t := range model.HookTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

func yamlErrorLine(err error) int {
	var typeErr *yaml.TypeError
	msg := err.Error()
	if errors.As(err, &typeErr) && len(typeErr.Errors) > 0 {
		msg = typeErr.Errors[0]
	}
	if m := yamlLineRe.FindStringSubmatch(msg); m != nil {
		if n, convErr := strconv.Atoi(m[1]); convErr == nil && n > 0 {
			return n
		}
	}
	return 1
}

// NormalizeCommand strips the leading slash of a slash command.
func NormalizeCommand(cmd string) string {
	return strings.TrimPrefix(strings.TrimSpace(cmd), "/")
}

// ParseCommand splits a comment body into slash-command tokens. It reports
// false when the body is not a slash command.
func ParseCommand(body string) ([]string, bool) {
	line, _, _ := strings.Cut(strings.TrimSpace(body), "\n")
	if !strings.HasPrefix(line, "/") {
		return nil, false
	}
	tokens := strings.Fields(line)
	tokens[0] = NormalizeCommand(tokens[0])
	if tokens[0] == "" {
		return nil, false
	}
	return tokens, true
}
