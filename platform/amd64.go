package platform

import (
	_ "embed"
)

//go:embed amd64.yaml
var amd64Description []byte

// Amd64 returns the built-in x86-64 target.
func Amd64() *Platform {
	return NewPlatform(MustParse("amd64.yaml", amd64Description))
}
