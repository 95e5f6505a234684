package processor

import (
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/hyperjump/wembed/internal/models"
)

// FileType is the classification of a file by name or content.
type FileType struct {
	Kind     models.FileKind
	Language string
}

var extensionTypes = map[string]FileType{
	".md":       {models.KindMarkdown, "markdown"},
	".markdown": {models.KindMarkdown, "markdown"},
	".mdx":      {models.KindMarkdown, "markdown"},

	".txt":  {models.KindText, ""},
	".text": {models.KindText, ""},
	".rst":  {models.KindText, "rst"},
	".adoc": {models.KindText, "asciidoc"},
	".org":  {models.KindText, "org"},
	".log":  {models.KindText, ""},
	".csv":  {models.KindText, "csv"},
	".tsv":  {models.KindText, "tsv"},

	".go":      {models.KindCode, "go"},
	".py":      {models.KindCode, "python"},
	".js":      {models.KindCode, "javascript"},
	".mjs":     {models.KindCode, "javascript"},
	".jsx":     {models.KindCode, "jsx"},
	".ts":      {models.KindCode, "typescript"},
	".tsx":     {models.KindCode, "tsx"},
	".rs":      {models.KindCode, "rust"},
	".java":    {models.KindCode, "java"},
	".kt":      {models.KindCode, "kotlin"},
	".scala":   {models.KindCode, "scala"},
	".swift":   {models.KindCode, "swift"},
	".c":       {models.KindCode, "c"},
	".h":       {models.KindCode, "c"},
	".cc":      {models.KindCode, "cpp"},
	".cpp":     {models.KindCode, "cpp"},
	".hpp":     {models.KindCode, "cpp"},
	".cs":      {models.KindCode, "csharp"},
	".rb":      {models.KindCode, "ruby"},
	".php":     {models.KindCode, "php"},
	".lua":     {models.KindCode, "lua"},
	".pl":      {models.KindCode, "perl"},
	".r":       {models.KindCode, "r"},
	".sh":      {models.KindCode, "bash"},
	".bash":    {models.KindCode, "bash"},
	".zsh":     {models.KindCode, "zsh"},
	".ps1":     {models.KindCode, "powershell"},
	".sql":     {models.KindCode, "sql"},
	".proto":   {models.KindCode, "protobuf"},
	".graphql": {models.KindCode, "graphql"},
	".tf":      {models.KindCode, "hcl"},
	".vue":     {models.KindCode, "vue"},
	".svelte":  {models.KindCode, "svelte"},
	".html":    {models.KindCode, "html"},
	".htm":     {models.KindCode, "html"},
	".css":     {models.KindCode, "css"},
	".scss":    {models.KindCode, "scss"},
	".xml":     {models.KindCode, "xml"},
	".json":    {models.KindCode, "json"},
	".yaml":    {models.KindCode, "yaml"},
	".yml":     {models.KindCode, "yaml"},
	".toml":    {models.KindCode, "toml"},
	".ini":     {models.KindCode, "ini"},
	".cfg":     {models.KindCode, "ini"},

	".pdf":  {models.KindDocument, ""},
	".docx": {models.KindDocument, ""},
	".xlsx": {models.KindDocument, ""},
	".xlsm": {models.KindDocument, ""},
	".pptx": {models.KindDocument, ""},
	".odt":  {models.KindDocument, ""},
	".ods":  {models.KindDocument, ""},
	".odp":  {models.KindDocument, ""},
	".rtf":  {models.KindDocument, ""},
}

// Extensionless files recognized by name.
var nameTypes = map[string]FileType{
	"makefile":   {models.KindCode, "makefile"},
	"dockerfile": {models.KindCode, "dockerfile"},
	"license":    {models.KindText, ""},
	"readme":     {models.KindText, ""},
}

// Classify determines kind and fence language from the file name, falling back to
// content sniffing on head. The returned MIME type always comes from sniffing.
func Classify(name string, head []byte) (FileType, string) {
	mt := mimetype.Detect(head)
	if ft, ok := extensionTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ft, mt.String()
	}
	if ft, ok := nameTypes[strings.ToLower(name)]; ok {
		return ft, mt.String()
	}
	return sniffType(mt), mt.String()
}

func sniffType(mt *mimetype.MIME) FileType {
	for m := mt; m != nil; m = m.Parent() {
		switch {
		case m.Is("text/markdown"):
			return FileType{Kind: models.KindMarkdown, Language: "markdown"}
		case m.Is("application/pdf"),
			m.Is("application/vnd.openxmlformats-officedocument.wordprocessingml.document"),
			m.Is("application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"),
			m.Is("application/vnd.openxmlformats-officedocument.presentationml.presentation"),
			m.Is("application/vnd.oasis.opendocument.text"),
			m.Is("application/vnd.oasis.opendocument.spreadsheet"),
			m.Is("application/vnd.oasis.opendocument.presentation"),
			m.Is("text/rtf"):
			return FileType{Kind: models.KindDocument}
		case m.Is("text/plain"):
			return FileType{Kind: models.KindText}
		}
	}
	return FileType{Kind: models.KindBinary}
}

// textMIME reports whether sniffing found text, whatever the charset.
func textMIME(mimeType string) bool {
	return strings.HasPrefix(mimeType, "text/")
}
