package bazaar

import "slices"

// TransportContext is the slice of the transport layer bazaar needs: just
// the request method. http.HTTPRequestContext satisfies it structurally,
// keeping this package free of any concrete HTTP dependency.
type TransportContext interface {
	TransportMethod() string
}

// BazaarResourceServerExtension enriches discovery declarations with the
// live transport method at 402 time. Register it on a resource server to
// make its listings reflect how the resource is actually served.
var BazaarResourceServerExtension = &bazaarResourceServerExtension{}

type bazaarResourceServerExtension struct{}

func (e *bazaarResourceServerExtension) Key() string {
	return BAZAAR
}

// EnrichDeclaration fills the declaration's input method from the request
// being answered and marks the method field required in the schema.
// Declarations or transport contexts of unexpected types pass through
// untouched.
func (e *bazaarResourceServerExtension) EnrichDeclaration(
	declaration interface{},
	transportContext interface{},
) interface{} {
	tc, ok := transportContext.(TransportContext)
	if !ok {
		return declaration
	}
	extension, ok := declaration.(DiscoveryExtension)
	if !ok {
		return declaration
	}

	method := tc.TransportMethod()
	switch input := extension.Info.Input.(type) {
	case QueryInput:
		input.Method = QueryParamMethods(method)
		extension.Info.Input = input
	case BodyInput:
		input.Method = BodyMethods(method)
		extension.Info.Input = input
	}

	if properties, ok := extension.Schema["properties"].(map[string]interface{}); ok {
		if input, ok := properties["input"].(map[string]interface{}); ok {
			if required, ok := input["required"].([]string); ok && !slices.Contains(required, "method") {
				input["required"] = append(required, "method")
			}
		}
	}

	return extension
}
