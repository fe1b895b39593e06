package browser

import (
	"fmt"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// resourceAliases maps the names accepted in browser.resource_blocking to
// CDP resource types. Any other name is taken as a CDP type as is
// ("script", "xhr", ...).
var resourceAliases = map[string]proto.NetworkResourceType{
	"images":      proto.NetworkResourceTypeImage,
	"image":       proto.NetworkResourceTypeImage,
	"fonts":       proto.NetworkResourceTypeFont,
	"font":        proto.NetworkResourceTypeFont,
	"media":       proto.NetworkResourceTypeMedia,
	"stylesheets": proto.NetworkResourceTypeStylesheet,
	"stylesheet":  proto.NetworkResourceTypeStylesheet,
}

// blockedTypes resolves configured names to distinct CDP resource types.
func blockedTypes(names []string) []proto.NetworkResourceType {
	var out []proto.NetworkResourceType
	seen := make(map[proto.NetworkResourceType]bool, len(names))
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		rt, ok := resourceAliases[name]
		if !ok {
			rt = proto.NetworkResourceType(strings.ToUpper(name[:1]) + name[1:])
		}
		if !seen[rt] {
			seen[rt] = true
			out = append(out, rt)
		}
	}
	return out
}

// blockResources fails every request of the given types before it leaves
// the browser. Posts only need the document and its scripts; skipping
// images and media keeps long feed sessions light. Stop the returned
// router when the page closes.
func blockResources(page *rod.Page, names []string) (*rod.HijackRouter, error) {
	types := blockedTypes(names)
	if len(types) == 0 {
		return nil, nil
	}
	router := page.HijackRequests()
	for _, rt := range types {
		if err := router.Add("*", rt, func(h *rod.Hijack) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
		}); err != nil {
			return nil, fmt.Errorf("browser: block %s: %w", rt, err)
		}
	}
	go router.Run()
	return router, nil
}
