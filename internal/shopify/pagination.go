package shopify

import (
	"net/url"
	"strings"
)

// NextPageInfo extracts the page_info cursor of the rel="next" entry of a
// Link header, or "" when there is no next page.
//
//	<https://shop/admin/api/2024-01/products.json?limit=250&page_info=abc>; rel="next"
func NextPageInfo(link string) string {
	for _, part := range strings.Split(link, ",") {
		segments := strings.Split(part, ";")
		if len(segments) < 2 {
			continue
		}
		isNext := false
		for _, attr := range segments[1:] {
			attr = strings.TrimSpace(attr)
			if strings.EqualFold(attr, `rel="next"`) || strings.EqualFold(attr, "rel=next") {
				isNext = true
				break
			}
		}
		if !isNext {
			continue
		}
		target := strings.TrimSpace(segments[0])
		target = strings.TrimPrefix(target, "<")
		target = strings.TrimSuffix(target, ">")
		u, err := url.Parse(target)
		if err != nil {
			return ""
		}
		return u.Query().Get("page_info")
	}
	return ""
}
