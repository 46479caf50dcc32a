// Package api 内嵌 OpenAPI 文档
package api

import (
	"context"
	"embed"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed openapi/*.yaml
var OpenAPIFS embed.FS

//go:embed docs/index.html
var DocsFS embed.FS

// SpecFile 用户 API 文档文件名
const SpecFile = "openapi/users.yaml"

// LoadSpec 加载并校验内嵌的 OpenAPI 文档
func LoadSpec(ctx context.Context) (*openapi3.T, error) {
	data, err := OpenAPIFS.ReadFile(SpecFile)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", SpecFile, err)
	}

	loader := openapi3.NewLoader()
	loader.Context = ctx
	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", SpecFile, err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("validate %s: %w", SpecFile, err)
	}
	return doc, nil
}
