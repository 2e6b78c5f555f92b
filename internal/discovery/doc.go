// Package discovery answers SSDP searches for the gateway.
//
// The Responder joins the IPv6 site-local SSDP group (default
// [ff05::c]:1900) and replies to every M-SEARCH whose ST header names
// urn:8devices-com:service:lwm2m:1. Other search targets, including
// ssdp:all, are ignored. Replies are unicast to the searcher.
package discovery
