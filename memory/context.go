package memory

import (
	"fmt"
	"strings"
)

// Section headers for the prompt context block.
const (
	episodicHeader = "Relevant user memories:"
	semanticHeader = "Relevant knowledge:"
)

// assembleContext formats retrieved memories into the text block injected into
// prompts: up to two labeled sections, episodic first. When both sides are
// empty it returns "" so no placeholder noise reaches the prompt.
func assembleContext(episodic, semantic []Memory) string {
	if len(episodic) == 0 && len(semantic) == 0 {
		return ""
	}

	var b strings.Builder
	writeSection(&b, episodicHeader, episodic)
	if len(episodic) > 0 && len(semantic) > 0 {
		b.WriteString("\n")
	}
	writeSection(&b, semanticHeader, semantic)
	return strings.TrimRight(b.String(), "\n")
}

func writeSection(b *strings.Builder, header string, memories []Memory) {
	if len(memories) == 0 {
		return
	}
	b.WriteString(header)
	b.WriteString("\n")
	for _, mem := range memories {
		fmt.Fprintf(b, "- %s\n", strings.TrimSpace(mem.Content))
	}
}
