package crawler

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Matcher is the predicate for one content category. An element matches when
// its tag is listed in Tags, its class attribute contains any of ClassPatterns
// (case-insensitive substring), or its itemprop equals any of ItemProps.
type Matcher struct {
	Tags          []string `mapstructure:"tags"`
	ClassPatterns []string `mapstructure:"class_patterns"`
	ItemProps     []string `mapstructure:"item_props"`
}

// Match reports whether the first node of s satisfies the predicate.
func (m Matcher) Match(s *goquery.Selection) bool {
	if s == nil || s.Length() == 0 {
		return false
	}
	if len(m.Tags) > 0 {
		name := goquery.NodeName(s)
		for _, tag := range m.Tags {
			if strings.EqualFold(tag, name) {
				return true
			}
		}
	}
	if len(m.ClassPatterns) > 0 {
		if class, ok := s.Attr("class"); ok && class != "" {
			class = strings.ToLower(class)
			for _, pattern := range m.ClassPatterns {
				if pattern != "" && strings.Contains(class, strings.ToLower(pattern)) {
					return true
				}
			}
		}
	}
	if len(m.ItemProps) > 0 {
		if prop, ok := s.Attr("itemprop"); ok {
			for _, want := range m.ItemProps {
				if strings.EqualFold(prop, want) {
					return true
				}
			}
		}
	}
	return false
}

// Empty reports whether the matcher can never match.
func (m Matcher) Empty() bool {
	return len(m.Tags) == 0 && len(m.ClassPatterns) == 0 && len(m.ItemProps) == 0
}
