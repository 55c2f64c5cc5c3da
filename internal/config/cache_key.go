package config

import (
	"fmt"
	"net/url"
	"strings"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// RealtimeDocKey returns the Redis key holding one realtime document (e.g. "sessions/abc").
func (r *CacheKeyStruct) RealtimeDocKey(docPath string) string {
	return fmt.Sprintf("rt:doc:%s", docPath)
}

// RealtimeCollectionPattern returns the SCAN pattern matching every document of a collection.
func (r *CacheKeyStruct) RealtimeCollectionPattern(collection string) string {
	return fmt.Sprintf("rt:doc:%s/*", collection)
}

// RealtimeChannel returns the Redis Pub/Sub channel announcing changes to one document.
func (r *CacheKeyStruct) RealtimeChannel(docPath string) string {
	return fmt.Sprintf("rt:changes:%s", docPath)
}

// RevokedTokenKey marks a teacher JWT (by jti) as logged out until it expires.
func (r *CacheKeyStruct) RevokedTokenKey(jti string) string {
	return fmt.Sprintf("auth:revoked:%s", jti)
}

// RateLimitKey counts requests of one client against one limited route group.
func (r *CacheKeyStruct) RateLimitKey(scope, clientIP string) string {
	return fmt.Sprintf("ratelimit:%s:%s", scope, clientIP)
}

var CacheKey = NewCacheKeyStruct()

// PathStruct builds realtime store paths. Path segments that come from user
// input are escaped so they can never introduce extra "/" separators.
type PathStruct struct{}

// Sessions is the collection of live session documents.
func (p *PathStruct) Sessions() string {
	return "sessions"
}

// Session returns the document path of a live session.
func (p *PathStruct) Session(sessionID string) string {
	return "sessions/" + url.PathEscape(sessionID)
}

// Student returns the path of one student's sub-record inside a session.
func (p *PathStruct) Student(sessionID, studentID string) string {
	return p.Session(sessionID) + "/students/" + url.PathEscape(studentID)
}

// ResponseField returns a student-relative sub-path for one response (or one of its fields).
func (p *PathStruct) ResponseField(slideID string, field ...string) string {
	parts := append([]string{"responses", url.PathEscape(slideID)}, field...)
	return strings.Join(parts, "/")
}

// CodeIndex returns the path of the join-code index entry.
func (p *PathStruct) CodeIndex(code string) string {
	return "sessionCodes/" + url.PathEscape(strings.ToUpper(code))
}

var Path = &PathStruct{}
