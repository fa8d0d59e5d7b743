package id

import (
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	PrefixMCPServer        = "amcp"
	PrefixMCPTool          = "amct"
	PrefixUserServerConfig = "amuc"

	idLength = 21
)

type Generator struct{}

func New() *Generator {
	return &Generator{}
}

func (g *Generator) generate(prefix string) string {
	id, err := gonanoid.New(idLength)
	if err != nil {
		return prefix + "_fallback"
	}
	return prefix + "_" + id
}

func (g *Generator) GenerateMCPServerID() string {
	return g.generate(PrefixMCPServer)
}

func (g *Generator) GenerateMCPToolID() string {
	return g.generate(PrefixMCPTool)
}

func (g *Generator) GenerateUserServerConfigID() string {
	return g.generate(PrefixUserServerConfig)
}

// HasPrefix reports whether id looks like one this generator produced for prefix
func HasPrefix(id, prefix string) bool {
	rest, ok := strings.CutPrefix(id, prefix+"_")
	return ok && rest != ""
}
