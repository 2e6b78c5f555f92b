package lwm2m

import (
	"fmt"
	"strings"
)

// CoAP content formats used on the LwM2M interfaces.
const (
	ContentFormatLinkFormat = 40
	ContentFormatSenMLJSON  = 110
	ContentFormatSenMLCBOR  = 112
)

// FormatLinks renders object instance paths as a CoRE link-format payload,
// as sent in a registration: </3/0>,</3303/0>.
func FormatLinks(paths []Path) string {
	links := make([]string, 0, len(paths))
	for _, p := range paths {
		links = append(links, "<"+p.String()+">")
	}
	return strings.Join(links, ",")
}

// ParseLinks parses a registration link-format payload. Link attributes are
// ignored, as is the root link (</>;rt="oma.lwm2m").
func ParseLinks(payload string) ([]Path, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, nil
	}

	var paths []Path
	for _, link := range strings.Split(payload, ",") {
		link = strings.TrimSpace(link)
		target, _, _ := strings.Cut(link, ";")
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			return nil, fmt.Errorf("%w: malformed link %q", ErrInvalidPayload, link)
		}
		uri := strings.TrimSuffix(strings.TrimPrefix(target, "<"), ">")
		if strings.Trim(uri, "/") == "" {
			continue
		}
		p, err := ParsePath(uri)
		if err != nil {
			return nil, fmt.Errorf("%w: link %q: %v", ErrInvalidPayload, link, err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}
