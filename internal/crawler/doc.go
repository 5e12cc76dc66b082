// Package crawler implements the bounded site crawl used to collect market
// research material: domain normalization, same-origin link discovery,
// goquery-based content extraction, and the breadth-first and fan-out crawl
// strategies selected by a Profile.
package crawler
