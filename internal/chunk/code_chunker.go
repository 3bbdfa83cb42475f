package chunk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// CodeChunkerOptions configures the code chunker behavior
type CodeChunkerOptions struct {
	MaxChunkTokens int // Maximum tokens per chunk (default: DefaultMaxChunkTokens)
	OverlapTokens  int // Overlap between chunks when splitting (default: DefaultOverlapTokens)
}

// CodeChunker implements AST-aware code chunking using tree-sitter
type CodeChunker struct {
	parser    *Parser
	extractor *SymbolExtractor
	registry  *LanguageRegistry
	options   CodeChunkerOptions
}

// NewCodeChunker creates a new code chunker with default options
func NewCodeChunker() *CodeChunker {
	return NewCodeChunkerWithOptions(CodeChunkerOptions{})
}

// NewCodeChunkerWithOptions creates a new code chunker with custom options
func NewCodeChunkerWithOptions(opts CodeChunkerOptions) *CodeChunker {
	if opts.MaxChunkTokens == 0 {
		opts.MaxChunkTokens = DefaultMaxChunkTokens
	}
	if opts.OverlapTokens == 0 {
		opts.OverlapTokens = DefaultOverlapTokens
	}

	registry := DefaultRegistry()
	return &CodeChunker{
		parser:    NewParserWithRegistry(registry),
		extractor: NewSymbolExtractorWithRegistry(registry),
		registry:  registry,
		options:   opts,
	}
}

// Close releases chunker resources
func (c *CodeChunker) Close() {
	if c.parser != nil {
		c.parser.Close()
	}
}

// SupportedExtensions returns file extensions this chunker handles
func (c *CodeChunker) SupportedExtensions() []string {
	return c.registry.SupportedExtensions()
}

// Chunk splits a file into semantic chunks
func (c *CodeChunker) Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	if len(file.Content) == 0 {
		return nil, nil
	}

	// Check if language is supported
	_, supported := c.registry.GetByName(file.Language)
	if !supported {
		// Fall back to line-based chunking
		return c.chunkByLines(file)
	}

	// Parse the file
	tree, err := c.parser.Parse(ctx, file.Content, file.Language)
	if err != nil {
		// Fall back to line-based chunking on parse error
		return c.chunkByLines(file)
	}

	// Extract context (package declaration, imports)
	fileContext := c.extractFileContext(tree, file.Content, file.Language)

	// Enrich context with file path marker for better embedding quality
	fileContext = c.enrichContextWithFilePath(file.Path, file.Language, fileContext)

	fileImports := c.extractImportLines(tree, file.Content, file.Language)

	// Find symbol nodes (functions, classes, methods, types)
	symbolNodes := c.findSymbolNodes(tree, file.Language)

	now := time.Now()

	if len(symbolNodes) == 0 {
		return c.chunkUncoveredRegions(file, nil, fileContext, fileImports, now), nil
	}

	// Create chunks from symbol nodes
	chunks := make([]*Chunk, 0, len(symbolNodes))

	for _, node := range symbolNodes {
		nodeChunks := c.createChunksFromNode(node, tree, file, fileContext, fileImports, now)
		chunks = append(chunks, nodeChunks...)
	}

	chunks = append(chunks, c.chunkUncoveredRegions(file, chunks, fileContext, fileImports, now)...)

	return chunks, nil
}

// symbolNodeInfo holds a symbol node with its extracted symbol info and the
// name of its enclosing class/struct definition, if any (spec.md §4.2
// "parent_definition").
type symbolNodeInfo struct {
	node   *Node
	symbol *Symbol
	parent string
}

// findSymbolNodes finds all symbol-defining nodes, tracking the name of the
// nearest enclosing class/interface so nested methods can carry a
// parent_definition.
func (c *CodeChunker) findSymbolNodes(tree *Tree, language string) []*symbolNodeInfo {
	// Return empty slice, not nil, for consistent API behavior (DEBT-012)
	config, ok := c.registry.GetByName(language)
	if !ok {
		return []*symbolNodeInfo{}
	}

	var symbolNodes []*symbolNodeInfo

	// Build set of symbol-defining node types
	symbolTypes := make(map[string]SymbolType)
	for _, t := range config.FunctionTypes {
		symbolTypes[t] = SymbolTypeFunction
	}
	for _, t := range config.MethodTypes {
		symbolTypes[t] = SymbolTypeMethod
	}
	for _, t := range config.ClassTypes {
		symbolTypes[t] = SymbolTypeClass
	}
	for _, t := range config.InterfaceTypes {
		symbolTypes[t] = SymbolTypeInterface
	}
	for _, t := range config.TypeDefTypes {
		symbolTypes[t] = SymbolTypeType
	}
	for _, t := range config.ConstantTypes {
		symbolTypes[t] = SymbolTypeConstant
	}
	for _, t := range config.VariableTypes {
		symbolTypes[t] = SymbolTypeVariable
	}

	var walk func(n *Node, parent string)
	walk = func(n *Node, parent string) {
		nextParent := parent

		// For JS/TS lexical_declaration/variable_declaration, check for arrow functions first
		// Arrow functions should be typed as Function, not Constant
		if n.Type == "lexical_declaration" || n.Type == "variable_declaration" {
			sym := c.extractor.extractSpecialSymbol(n, tree.Source, language)
			if sym != nil {
				symbolNodes = append(symbolNodes, &symbolNodeInfo{node: n, symbol: sym, parent: parent})
				for _, child := range n.Children {
					walk(child, nextParent)
				}
				return
			}
			// Not an arrow function - fall through to check as constant/variable
		}

		// Check if this is a symbol-defining node type
		if symType, isSymbol := symbolTypes[n.Type]; isSymbol {
			sym := c.extractSymbol(n, tree, symType, language)
			if sym != nil {
				symbolNodes = append(symbolNodes, &symbolNodeInfo{node: n, symbol: sym, parent: parent})
				if symType == SymbolTypeClass || symType == SymbolTypeInterface {
					nextParent = sym.Name
				}
			}
		}

		for _, child := range n.Children {
			walk(child, nextParent)
		}
	}

	walk(tree.Root, "")

	return symbolNodes
}

// extractSymbol extracts symbol info from a node
func (c *CodeChunker) extractSymbol(n *Node, tree *Tree, symType SymbolType, language string) *Symbol {
	config, _ := c.registry.GetByName(language)
	name := c.extractor.extractName(n, tree.Source, config, language)
	if name == "" {
		return nil
	}

	docComment := c.extractDocComment(n, tree.Source, language)
	signature := c.extractor.extractSignature(n, tree.Source, symType, language)

	return &Symbol{
		Name:       name,
		Type:       symType,
		StartLine:  int(n.StartPoint.Row) + 1,
		EndLine:    int(n.EndPoint.Row) + 1,
		Signature:  signature,
		DocComment: docComment,
	}
}

// definitionKindFor maps a SymbolType to the CodeChunk definition_kind
// vocabulary (spec.md §3).
func definitionKindFor(t SymbolType) string {
	switch t {
	case SymbolTypeFunction:
		return "function"
	case SymbolTypeMethod:
		return "method"
	case SymbolTypeClass:
		return "class"
	case SymbolTypeInterface:
		return "interface"
	case SymbolTypeType:
		return "type"
	case SymbolTypeConstant:
		return "const"
	case SymbolTypeVariable:
		return "variable"
	}
	return ""
}

// chunkTypeFor maps a SymbolType to the coarser chunk_type vocabulary used
// for filtering (spec.md §3).
func chunkTypeFor(t SymbolType) ChunkType {
	switch t {
	case SymbolTypeFunction, SymbolTypeMethod:
		return ChunkTypeFunction
	case SymbolTypeClass, SymbolTypeInterface, SymbolTypeType:
		return ChunkTypeClass
	case SymbolTypeConstant, SymbolTypeVariable:
		return ChunkTypeBlock
	}
	return ChunkTypeBlock
}

// detectVisibility infers a definition's visibility from the language's own
// convention (spec.md §4.2: identifier case for Go, naming convention for
// Python, modifier keywords for TS/JS).
func detectVisibility(name, declaration, language string) string {
	switch language {
	case "go":
		if name == "" {
			return ""
		}
		r := []rune(name)
		if unicode.IsUpper(r[0]) {
			return "public"
		}
		return "private"

	case "python":
		switch {
		case strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__"):
			return "special"
		case strings.HasPrefix(name, "_"):
			return "private"
		default:
			return "public"
		}

	case "typescript", "tsx", "javascript", "jsx":
		first := strings.TrimSpace(strings.SplitN(declaration, "\n", 2)[0])
		switch {
		case strings.Contains(first, "private ") || strings.HasPrefix(name, "#"):
			return "private"
		case strings.Contains(first, "protected "):
			return "protected"
		default:
			return "public"
		}
	}
	return ""
}

// extractImportLines collects each top-level import line in the file,
// split out of grouped import blocks (e.g. Go's `import (...)`), so chunks
// can embed a compact IMPORTS section (spec.md §4.2).
func (c *CodeChunker) extractImportLines(tree *Tree, source []byte, language string) []string {
	var nodeTypes []string
	switch language {
	case "go":
		nodeTypes = []string{"import_declaration"}
	case "typescript", "tsx", "javascript", "jsx":
		nodeTypes = []string{"import_statement"}
	case "python":
		nodeTypes = []string{"import_statement", "import_from_statement"}
	default:
		return nil
	}

	var lines []string
	for _, node := range tree.Root.Children {
		for _, nt := range nodeTypes {
			if node.Type != nt {
				continue
			}
			for _, line := range strings.Split(node.GetContent(source), "\n") {
				line = strings.TrimSpace(line)
				if line == "" || line == "(" || line == ")" {
					continue
				}
				lines = append(lines, line)
			}
		}
	}
	return lines
}

// callNodeTypeFor returns the tree-sitter node type that represents a call
// expression in language.
func callNodeTypeFor(language string) string {
	if language == "python" {
		return "call"
	}
	return "call_expression"
}

// extractCalls walks a definition's subtree and returns the distinct callee
// names it invokes (spec.md §3 "calls"), restricted to n's own range.
func extractCalls(n *Node, source []byte, language string) []string {
	callType := callNodeTypeFor(language)
	seen := make(map[string]bool)
	var calls []string
	for _, callNode := range n.FindAllByType(callType) {
		name := calleeName(callNode, source)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		calls = append(calls, name)
	}
	return calls
}

// calleeName extracts the invoked name from a call expression node, using
// the last identifier-like segment of a qualified selector/member/attribute
// expression (e.g. `pkg.Foo()` -> "Foo", `obj.method()` -> "method").
func calleeName(n *Node, source []byte) string {
	if len(n.Children) == 0 {
		return ""
	}
	fn := n.Children[0]

	switch fn.Type {
	case "identifier":
		return fn.GetContent(source)
	case "selector_expression", "member_expression", "attribute":
		var last string
		for _, c := range fn.Children {
			switch c.Type {
			case "identifier", "field_identifier", "property_identifier":
				last = c.GetContent(source)
			}
		}
		if last != "" {
			return last
		}
	}

	for _, c := range fn.Children {
		if c.Type == "identifier" {
			return c.GetContent(source)
		}
	}
	return ""
}

// buildEmbeddingText renders the structured text an embedding model sees
// for a definition chunk: a labeled header (definition, file, signature,
// doc, imports, calls) followed by a separator and the raw content
// (spec.md §4.2).
func buildEmbeddingText(c *Chunk) string {
	var b strings.Builder

	if c.DefinitionName != "" {
		kind := c.DefinitionKind
		if kind == "" {
			kind = "symbol"
		}
		fmt.Fprintf(&b, "DEFINITION: %s %s\n", kind, c.DefinitionName)
	}
	fmt.Fprintf(&b, "FILE: %s\n", c.FilePath)
	if c.Signature != "" {
		fmt.Fprintf(&b, "SIGNATURE: %s\n", c.Signature)
	}
	if c.Docstring != "" {
		docLines := strings.Split(strings.TrimSpace(c.Docstring), "\n")
		if len(docLines) > 5 {
			docLines = docLines[:5]
		}
		fmt.Fprintf(&b, "DOC: %s\n", strings.Join(docLines, " "))
	}
	if len(c.Imports) > 0 {
		imports := c.Imports
		if len(imports) > 10 {
			imports = imports[:10]
		}
		fmt.Fprintf(&b, "IMPORTS: %s\n", strings.Join(imports, ", "))
	}
	if len(c.Calls) > 0 {
		calls := c.Calls
		if len(calls) > 15 {
			calls = calls[:15]
		}
		fmt.Fprintf(&b, "CALLS: %s\n", strings.Join(calls, ", "))
	}

	b.WriteString("---\n")
	b.WriteString(c.RawContent)
	return b.String()
}

// chunkContentHash returns a short content hash for a chunk's raw content,
// distinct from generateChunkID's combined (file, content) hash, since
// CodeChunk.content_hash identifies identical definitions across files.
func chunkContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:16]
}

// extractDocComment extracts doc comment for a node, looking for multi-line comments
func (c *CodeChunker) extractDocComment(n *Node, source []byte, language string) string {
	// Find the start of the current line
	lineStart := int(n.StartByte)
	for lineStart > 0 && source[lineStart-1] != '\n' {
		lineStart--
	}

	// Look for comment on preceding lines
	if lineStart <= 1 {
		return ""
	}

	// Collect comment lines working backwards
	var commentLines []string
	pos := lineStart - 1 // Start before the newline

	for pos > 0 {
		// Find start of previous line
		prevLineEnd := pos
		pos--
		for pos > 0 && source[pos] != '\n' {
			pos--
		}
		prevLineStart := pos
		if pos > 0 {
			prevLineStart++ // Skip the newline
		}

		prevLine := strings.TrimSpace(string(source[prevLineStart:prevLineEnd]))

		// Check for single-line comments
		switch language {
		case "go", "typescript", "tsx", "javascript", "jsx":
			if strings.HasPrefix(prevLine, "//") {
				commentLines = append([]string{strings.TrimPrefix(prevLine, "//")}, commentLines...)
				continue
			}
		case "python":
			if strings.HasPrefix(prevLine, "#") {
				commentLines = append([]string{strings.TrimPrefix(prevLine, "#")}, commentLines...)
				continue
			}
		}

		// Stop if we hit a non-comment line (unless empty)
		if prevLine != "" {
			break
		}
	}

	if len(commentLines) == 0 {
		return ""
	}

	return strings.TrimSpace(strings.Join(commentLines, "\n"))
}

// createChunksFromNode creates one or more chunks from a symbol node
func (c *CodeChunker) createChunksFromNode(info *symbolNodeInfo, tree *Tree, file *FileInput, fileContext string, fileImports []string, now time.Time) []*Chunk {
	node := info.node
	rawContent := string(tree.Source[node.StartByte:node.EndByte])

	// Include doc comment in raw content if it exists, extending the
	// chunk's start line backward to cover it (spec.md §4.2 "doc-comment
	// range extension") so uncovered-region detection doesn't re-emit the
	// comment as its own chunk.
	rawContentWithDoc := rawContent
	startLine := int(node.StartPoint.Row) + 1
	if info.symbol.DocComment != "" {
		rawContentWithDoc = c.getRawContentWithDocComment(node, tree.Source, info.symbol.DocComment)
		startLine -= strings.Count(info.symbol.DocComment, "\n") + 1
	}

	tokens := estimateTokens(rawContentWithDoc)

	if tokens <= c.options.MaxChunkTokens {
		// Small enough to be a single chunk
		calls := extractCalls(node, tree.Source, file.Language)
		chunk := c.createChunk(file, rawContentWithDoc, fileContext, info, fileImports, calls, startLine, now)
		return []*Chunk{chunk}
	}

	// Need to split large symbol
	return c.splitLargeSymbol(info, tree, file, fileContext, fileImports, now)
}

// getRawContentWithDocComment gets raw content including doc comment
func (c *CodeChunker) getRawContentWithDocComment(n *Node, source []byte, docComment string) string {
	// Find start of doc comment (before the node)
	lineStart := int(n.StartByte)
	for lineStart > 0 && source[lineStart-1] != '\n' {
		lineStart--
	}

	// Count back through comment lines
	docLines := strings.Count(docComment, "\n") + 1
	for i := 0; i < docLines && lineStart > 0; i++ {
		lineStart--
		for lineStart > 0 && source[lineStart-1] != '\n' {
			lineStart--
		}
	}

	return string(source[lineStart:n.EndByte])
}

// splitLargeSymbol splits a large symbol into multiple chunks
func (c *CodeChunker) splitLargeSymbol(info *symbolNodeInfo, tree *Tree, file *FileInput, fileContext string, fileImports []string, now time.Time) []*Chunk {
	node := info.node
	content := string(tree.Source[node.StartByte:node.EndByte])

	// Try to split at logical boundaries (child symbols for classes)
	if info.symbol.Type == SymbolTypeClass {
		// For classes, try to split by methods
		methodChunks := c.splitClassByMethods(info, tree, file, fileContext, now)
		if len(methodChunks) > 0 {
			return methodChunks
		}
	}

	// Fall back to line-based splitting with overlap
	return c.splitByLines(content, info.symbol, file, fileContext, fileImports, now, int(node.StartPoint.Row)+1)
}

// splitClassByMethods splits a class into method-based chunks
func (c *CodeChunker) splitClassByMethods(info *symbolNodeInfo, tree *Tree, file *FileInput, fileContext string, now time.Time) []*Chunk {
	// This is a placeholder - in practice we'd walk the class node
	// to find method children and create individual chunks for each
	return nil // Will fall through to line splitting
}

// splitByLines splits content into line-based chunks with overlap
func (c *CodeChunker) splitByLines(content string, symbol *Symbol, file *FileInput, fileContext string, fileImports []string, now time.Time, startLine int) []*Chunk {
	lines := strings.Split(content, "\n")
	// Return empty slice, not nil, for consistent API behavior (DEBT-012)
	if len(lines) == 0 {
		return []*Chunk{}
	}

	// Calculate lines per chunk (roughly)
	// TokensPerChar = 4, so ~128 chars = 32 tokens per line average
	// For 300 tokens, that's about 9-10 lines, but we'll use more conservative estimate
	maxLinesPerChunk := (c.options.MaxChunkTokens * TokensPerChar) / 80 // Assume 80 chars per line average
	if maxLinesPerChunk < 20 {
		maxLinesPerChunk = 20
	}

	overlapLines := (c.options.OverlapTokens * TokensPerChar) / 80
	if overlapLines < 2 {
		overlapLines = 2
	}

	var chunks []*Chunk
	for i := 0; i < len(lines); {
		end := i + maxLinesPerChunk
		if end > len(lines) {
			end = len(lines)
		}

		chunkContent := strings.Join(lines[i:end], "\n")
		chunkStartLine := startLine + i
		chunkEndLine := startLine + end - 1

		// Create a sub-symbol for this chunk
		subSymbol := &Symbol{
			Name:      fmt.Sprintf("%s_part%d", symbol.Name, len(chunks)+1),
			Type:      symbol.Type,
			StartLine: chunkStartLine,
			EndLine:   chunkEndLine,
		}

		// For the first chunk, also register the parent symbol.
		// This ensures queries for "Search method" can find split symbols
		// that are stored as "Search_part1", "Search_part2", etc.
		// (See RCA-013: Split Symbol Discovery)
		symbols := []*Symbol{subSymbol}
		if len(chunks) == 0 {
			// Add parent symbol to first chunk for discoverability
			parentSymbol := &Symbol{
				Name:      symbol.Name,
				Type:      symbol.Type,
				StartLine: symbol.StartLine,
				EndLine:   symbol.EndLine,
			}
			symbols = append(symbols, parentSymbol)
		}

		chunk := &Chunk{
			ID:             generateChunkID(file.Path, chunkContent),
			FilePath:       file.Path,
			Content:        combineContextAndContent(fileContext, chunkContent),
			RawContent:     chunkContent,
			Context:        fileContext,
			ContentType:    ContentTypeCode,
			ChunkType:      chunkTypeFor(symbol.Type),
			Language:       file.Language,
			StartLine:      chunkStartLine,
			EndLine:        chunkEndLine,
			Symbols:        symbols,
			Metadata:       make(map[string]string),
			DefinitionKind: definitionKindFor(symbol.Type),
			DefinitionName: subSymbol.Name,
			Imports:        fileImports,
			FileHash:       file.ContentHash,
			ContentHash:    chunkContentHash(chunkContent),
			TokensEstimate: estimateTokens(chunkContent),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		chunk.EmbeddingText = buildEmbeddingText(chunk)
		chunks = append(chunks, chunk)

		// Move forward, accounting for overlap
		i = end - overlapLines
		if i <= 0 || end >= len(lines) {
			break
		}
	}

	return chunks
}

// createChunk creates a single definition chunk, populating the full
// spec.md §3 CodeChunk field set (definition metadata, imports/calls,
// content hashes, and the structured embedding text).
func (c *CodeChunker) createChunk(file *FileInput, rawContent, fileContext string, info *symbolNodeInfo, fileImports, calls []string, startLine int, now time.Time) *Chunk {
	symbol := info.symbol
	declaration := rawContent
	if symbol.Signature != "" {
		declaration = symbol.Signature
	}

	chunk := &Chunk{
		ID:               generateChunkID(file.Path, rawContent),
		FilePath:         file.Path,
		Content:          combineContextAndContent(fileContext, rawContent),
		RawContent:       rawContent,
		Context:          fileContext,
		ContentType:      ContentTypeCode,
		ChunkType:        chunkTypeFor(symbol.Type),
		Language:         file.Language,
		StartLine:        startLine,
		EndLine:          symbol.EndLine,
		Symbols:          []*Symbol{symbol},
		Metadata:         make(map[string]string),
		DefinitionKind:   definitionKindFor(symbol.Type),
		DefinitionName:   symbol.Name,
		Visibility:       detectVisibility(symbol.Name, declaration, file.Language),
		Signature:        symbol.Signature,
		Docstring:        symbol.DocComment,
		ParentDefinition: info.parent,
		Imports:          fileImports,
		Calls:            calls,
		FileHash:         file.ContentHash,
		ContentHash:      chunkContentHash(rawContent),
		TokensEstimate:   estimateTokens(rawContent),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	chunk.EmbeddingText = buildEmbeddingText(chunk)
	return chunk
}

// extractFileContext extracts package declaration and imports from a file
func (c *CodeChunker) extractFileContext(tree *Tree, source []byte, language string) string {
	var parts []string

	switch language {
	case "go":
		parts = c.extractGoContext(tree, source)
	case "typescript", "tsx":
		parts = c.extractTSContext(tree, source)
	case "javascript", "jsx":
		parts = c.extractJSContext(tree, source)
	case "python":
		parts = c.extractPythonContext(tree, source)
	}

	return strings.Join(parts, "\n\n")
}

func (c *CodeChunker) extractGoContext(tree *Tree, source []byte) []string {
	var parts []string

	// Find package clause
	for _, node := range tree.Root.Children {
		if node.Type == "package_clause" {
			parts = append(parts, node.GetContent(source))
			break
		}
	}

	// Find import declarations
	for _, node := range tree.Root.Children {
		if node.Type == "import_declaration" {
			parts = append(parts, node.GetContent(source))
		}
	}

	return parts
}

func (c *CodeChunker) extractTSContext(tree *Tree, source []byte) []string {
	return c.extractJSContext(tree, source) // Same for TS/TSX
}

func (c *CodeChunker) extractJSContext(tree *Tree, source []byte) []string {
	var parts []string

	// Find import statements
	for _, node := range tree.Root.Children {
		if node.Type == "import_statement" {
			parts = append(parts, node.GetContent(source))
		}
	}

	return parts
}

func (c *CodeChunker) extractPythonContext(tree *Tree, source []byte) []string {
	var parts []string

	// Find import statements
	for _, node := range tree.Root.Children {
		if node.Type == "import_statement" || node.Type == "import_from_statement" {
			parts = append(parts, node.GetContent(source))
		}
	}

	return parts
}

// chunkByLines is the fallback for unsupported languages
func (c *CodeChunker) chunkByLines(file *FileInput) ([]*Chunk, error) {
	content := string(file.Content)
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	lines := strings.Split(content, "\n")
	linesPerChunk := 128 // ~512 tokens at 4 chars per token, 80 chars per line
	overlapLines := 16   // ~64 tokens overlap

	var chunks []*Chunk
	now := time.Now()

	for i := 0; i < len(lines); {
		end := i + linesPerChunk
		if end > len(lines) {
			end = len(lines)
		}

		chunkContent := strings.Join(lines[i:end], "\n")
		startLine := i + 1 // 1-indexed
		endLine := end     // Inclusive

		chunk := &Chunk{
			ID:             generateChunkID(file.Path, chunkContent),
			FilePath:       file.Path,
			Content:        chunkContent,
			RawContent:     chunkContent,
			Context:        "",
			ContentType:    ContentTypeText,
			ChunkType:      ChunkTypeBlock,
			Language:       file.Language,
			StartLine:      startLine,
			EndLine:        endLine,
			Symbols:        nil,
			Metadata:       make(map[string]string),
			FileHash:       file.ContentHash,
			ContentHash:    chunkContentHash(chunkContent),
			TokensEstimate: estimateTokens(chunkContent),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		chunk.EmbeddingText = buildEmbeddingText(chunk)
		chunks = append(chunks, chunk)

		// Move forward with overlap
		i = end - overlapLines
		if i <= 0 || end >= len(lines) {
			break
		}
	}

	return chunks, nil
}

// chunkUncoveredRegions finds file lines not covered by any chunk already
// emitted from symbol nodes and emits them as module/import/block chunks,
// skipping whitespace-only regions and import-only regions under 3
// non-blank lines (spec.md §4.2 "uncovered regions").
func (c *CodeChunker) chunkUncoveredRegions(file *FileInput, existing []*Chunk, fileContext string, fileImports []string, now time.Time) []*Chunk {
	lines := strings.Split(string(file.Content), "\n")
	total := len(lines)
	if total == 0 {
		return nil
	}

	covered := make([]bool, total+1) // 1-indexed
	for _, ch := range existing {
		for l := ch.StartLine; l <= ch.EndLine && l <= total; l++ {
			if l >= 1 {
				covered[l] = true
			}
		}
	}

	var out []*Chunk
	start := 0
	flush := func(end int) {
		if start == 0 {
			return
		}
		defer func() { start = 0 }()

		regionLines := lines[start-1 : end]
		content := strings.Join(regionLines, "\n")
		if strings.TrimSpace(content) == "" {
			return
		}

		nonBlank := 0
		importLike := true
		for _, l := range regionLines {
			t := strings.TrimSpace(l)
			if t == "" {
				continue
			}
			nonBlank++
			if !isImportLine(t, file.Language) {
				importLike = false
			}
		}
		if importLike && nonBlank < 3 {
			return
		}

		chunkType := ChunkTypeModule
		if importLike {
			chunkType = ChunkTypeImport
		}

		chunk := &Chunk{
			ID:             generateChunkID(file.Path, content),
			FilePath:       file.Path,
			Content:        combineContextAndContent(fileContext, content),
			RawContent:     content,
			Context:        fileContext,
			ContentType:    ContentTypeCode,
			ChunkType:      chunkType,
			Language:       file.Language,
			StartLine:      start,
			EndLine:        end,
			Metadata:       make(map[string]string),
			Imports:        fileImports,
			FileHash:       file.ContentHash,
			ContentHash:    chunkContentHash(content),
			TokensEstimate: estimateTokens(content),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		chunk.EmbeddingText = buildEmbeddingText(chunk)
		out = append(out, chunk)
	}

	for i := 1; i <= total; i++ {
		if covered[i] {
			flush(i - 1)
			continue
		}
		if start == 0 {
			start = i
		}
	}
	flush(total)

	return out
}

// isImportLine is a best-effort check for whether a trimmed line looks like
// an import statement, used only to classify uncovered regions as
// ChunkTypeImport vs. ChunkTypeModule.
func isImportLine(line, language string) bool {
	switch language {
	case "go":
		return strings.HasPrefix(line, "import") || strings.HasPrefix(line, "\"") || line == "(" || line == ")" || strings.HasPrefix(line, "package ")
	case "python":
		return strings.HasPrefix(line, "import ") || strings.HasPrefix(line, "from ")
	case "typescript", "tsx", "javascript", "jsx":
		return strings.HasPrefix(line, "import ") || strings.HasPrefix(line, "export {") || strings.HasPrefix(line, "export *")
	}
	return false
}

// generateChunkID generates a content-addressable chunk ID from file path and content.
// The ID is derived from filePath and content hash, making it stable across line number
// shifts while preserving file context. This is critical for checkpoint/resume to work
// correctly when files are modified between indexing sessions (BUG-052).
//
// Properties:
//   - Same content in same file = same ID (stable across line shifts)
//   - Different content in same file = different ID (triggers re-embedding)
//   - Same content in different files = different IDs (preserves file context)
func generateChunkID(filePath string, content string) string {
	// Hash the content first
	contentHash := sha256.Sum256([]byte(content))
	contentHashStr := hex.EncodeToString(contentHash[:])[:16]

	// Combine with file path for uniqueness per file
	input := fmt.Sprintf("%s:%s", filePath, contentHashStr)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])[:16]
}

// estimateTokens estimates the number of tokens in content
func estimateTokens(content string) int {
	return len(content) / TokensPerChar
}

// combineContextAndContent combines context and raw content into full content
func combineContextAndContent(context, rawContent string) string {
	if context == "" {
		return rawContent
	}
	return context + "\n\n" + rawContent
}

// enrichContextWithFilePath prepends a file path marker to the context.
// This helps embedding models understand file location and scope.
// The marker format is language-appropriate (// for Go/JS/TS, # for Python).
func (c *CodeChunker) enrichContextWithFilePath(filePath, language, existingContext string) string {
	if filePath == "" {
		return existingContext
	}

	// Use language-appropriate comment syntax
	var marker string
	switch language {
	case "python":
		marker = fmt.Sprintf("# File: %s", filePath)
	default:
		// Go, TypeScript, JavaScript, etc. use //
		marker = fmt.Sprintf("// File: %s", filePath)
	}

	if existingContext == "" {
		return marker
	}
	return marker + "\n" + existingContext
}
