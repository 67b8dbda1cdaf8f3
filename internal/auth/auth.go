package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"sort"
	"strings"
)

// 认证失败时返回的错误。
var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Subject 是通过认证的调用方，Name 取自配置中的令牌名称。
type Subject struct {
	Name string
}

// Service 校验状态 API 的静态 Bearer 令牌。
// 未配置任何令牌时认证被关闭，所有请求直接放行。
type Service struct {
	names   []string
	digests [][sha256.Size]byte
}

// NewService 根据 名称 -> 令牌 的映射构造认证服务，空令牌会被忽略。
func NewService(tokens map[string]string) *Service {
	names := make([]string, 0, len(tokens))
	for name, token := range tokens {
		if strings.TrimSpace(token) != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	s := &Service{names: names, digests: make([][sha256.Size]byte, len(names))}
	for i, name := range names {
		s.digests[i] = sha256.Sum256([]byte(strings.TrimSpace(tokens[name])))
	}
	return s
}

// Enabled 表示是否启用了认证。
func (s *Service) Enabled() bool {
	return s != nil && len(s.names) > 0
}

// AuthenticateRequest 解析 Authorization 头并返回匹配的调用方。
func (s *Service) AuthenticateRequest(authorization string) (*Subject, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(authorization), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return nil, ErrMissingToken
	}
	digest := sha256.Sum256([]byte(strings.TrimSpace(token)))

	// 逐个比较摘要，避免通过耗时推断令牌内容。
	match := -1
	for i := range s.digests {
		if subtle.ConstantTimeCompare(digest[:], s.digests[i][:]) == 1 {
			match = i
		}
	}
	if match < 0 {
		return nil, ErrInvalidToken
	}
	return &Subject{Name: s.names[match]}, nil
}
