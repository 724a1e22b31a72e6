package model

import "strings"

// AutoDetect 表示由模型自行决定目标语言。
const AutoDetect = "Auto-detect"

// FallbackLanguage 是 AutoDetect 未被模型解析时落盘使用的语言标签。
const FallbackLanguage = "Code"

// Languages 是可供选择的目标语言，第一个为 AutoDetect。
var Languages = []string{
	AutoDetect, "Python", "JavaScript", "TypeScript", "Lua", "C++", "C#", "Java", "Rust",
	"Go", "PHP", "Ruby", "Swift", "Kotlin", "Bash", "SQL", "HTML/CSS", "Assembly",
}

var extensions = map[string]string{
	"python":     ".py",
	"javascript": ".js",
	"typescript": ".ts",
	"lua":        ".lua",
	"c++":        ".cpp",
	"c#":         ".cs",
	"java":       ".java",
	"rust":       ".rs",
	"go":         ".go",
	"php":        ".php",
	"ruby":       ".rb",
	"swift":      ".swift",
	"kotlin":     ".kt",
	"bash":       ".sh",
	"sql":        ".sql",
	"html/css":   ".html",
	"html":       ".html",
	"css":        ".css",
	"assembly":   ".asm",
}

// IsSupportedLanguage 判断 label 是否在可选语言列表中（忽略大小写）。
func IsSupportedLanguage(label string) bool {
	for _, l := range Languages {
		if strings.EqualFold(l, label) {
			return true
		}
	}
	return false
}

// ResolveLanguage 把流结束时得到的语言标签转换为落盘使用的标签。
func ResolveLanguage(label string) string {
	label = strings.TrimSpace(label)
	if label == "" || label == AutoDetect {
		return FallbackLanguage
	}
	return label
}

// FileExtension 返回语言对应的文件后缀，未知语言返回 ".txt"。
func FileExtension(language string) string {
	if ext, ok := extensions[strings.ToLower(strings.TrimSpace(language))]; ok {
		return ext
	}
	return ".txt"
}
