// Package auth 提供 ws.Verifier 与 ws.AccountLookup 的实现。
//
// JWTVerifier 校验 HS256 令牌并结合 RevocationList 拒绝已吊销的 jti，
// CachingVerifier 缓存成功的校验结果。账号状态可来自静态表、缓存、
// 数据库（GORM）或远端 HTTP 服务。
package auth
