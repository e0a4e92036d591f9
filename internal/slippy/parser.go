package slippy

import (
	"errors"
	"sort"
	"strings"
	"unicode/utf8"

	"modtile/internal/conf"
)

// Context carries what the parser needs besides the request itself.
type Context struct {
	ModuleName string
	Config     *conf.ModuleConfig
}

// Parser 请求解析器
type Parser struct {
	ctx    *Context
	chain  PatternParser
	layers []*conf.LayerConfig
}

// NewParser creates a parser running DefaultChain for every configured layer.
func NewParser(ctx *Context) *Parser {
	return NewParserWithChain(ctx, DefaultChain())
}

// NewParserWithChain creates a parser running chain for every configured layer.
//
// Layers are tried longest base URL first, ties broken by name, so that when one
// base URL contains another the more specific layer wins. Base URLs are matched
// anywhere in the path, not only as a prefix, as mod_tile does.
func NewParserWithChain(ctx *Context, chain PatternParser) *Parser {
	layers := make([]*conf.LayerConfig, 0, len(ctx.Config.Layers))
	for _, l := range ctx.Config.Layers {
		layers = append(layers, l)
	}
	sort.Slice(layers, func(i, j int) bool {
		if len(layers[i].BaseURL) != len(layers[j].BaseURL) {
			return len(layers[i].BaseURL) > len(layers[j].BaseURL)
		}
		return layers[i].Name < layers[j].Name
	})
	return &Parser{ctx: ctx, chain: chain, layers: layers}
}

// Parse classifies in. It returns (nil, nil) when no layer or pattern matches,
// and a *ReadError when a pattern matched but the request is invalid.
func (p *Parser) Parse(in Input) (*Request, error) {
	header := Header{
		RequestID:  in.RequestID,
		URI:        in.URI,
		ReceivedAt: in.ReceivedAt,
	}
	if in.URI == "/"+p.ctx.ModuleName {
		return &Request{Header: header, Body: ReportStatistics{}}, nil
	}
	if !utf8.ValidString(in.URI) {
		return nil, &ReadError{Kind: UTF8, Err: errors.New("request uri is not valid utf-8")}
	}

	for _, layer := range p.layers {
		idx := strings.Index(in.URI, layer.BaseURL)
		if idx < 0 {
			continue
		}
		body, err := p.chain(p.ctx, layer, in.URI[idx+len(layer.BaseURL):])
		if err != nil {
			return nil, err
		}
		if body != nil {
			header.Layer = layer.Name
			return &Request{Header: header, Body: body}, nil
		}
	}
	return nil, nil
}

// Parse is a convenience for NewParser(ctx).Parse(in).
func Parse(ctx *Context, in Input) (*Request, error) {
	return NewParser(ctx).Parse(in)
}
