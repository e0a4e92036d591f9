package slippy

import "modtile/internal/conf"

// PatternParser matches the remainder of a URL after a layer's base URL.
// It returns (nil, nil) when the URL does not have its shape, a body when it
// does, and an error when it has the shape but a value is invalid.
type PatternParser func(ctx *Context, layer *conf.LayerConfig, url string) (Body, error)

// TryFirst runs first and falls back to second only when first did not match.
// An error from first is final.
func TryFirst(first, second PatternParser) PatternParser {
	return func(ctx *Context, layer *conf.LayerConfig, url string) (Body, error) {
		body, err := first(ctx, layer, url)
		if err != nil || body != nil {
			return body, err
		}
		return second(ctx, layer, url)
	}
}

// Chain combines parsers in priority order.
func Chain(parsers ...PatternParser) PatternParser {
	if len(parsers) == 0 {
		return func(*Context, *conf.LayerConfig, string) (Body, error) { return nil, nil }
	}
	p := parsers[len(parsers)-1]
	for i := len(parsers) - 2; i >= 0; i-- {
		p = TryFirst(parsers[i], p)
	}
	return p
}

// DefaultChain is the chain used for every layer.
func DefaultChain() PatternParser {
	return Chain(ParseDescribeLayer, ParseServeTileV3, ParseServeTileV2)
}
