// Package broker parses Celery broker URLs and reads queue backlog depths
// from Redis or RabbitMQ.
package broker

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	xerrors "CeleryPulse/internal/errors"
)

// ErrUnsupportedScheme is returned for broker URLs that are neither redis,
// amqp nor memory.
var ErrUnsupportedScheme = errors.New("broker: unsupported scheme")

// 规范化后的 scheme。
const (
	SchemeRedis  = "redis"
	SchemeAMQP   = "amqp"
	SchemeMemory = "memory"
)

const (
	defaultRedisPort = 6379
	defaultAMQPPort  = 5672
)

// URL 是解析后的 broker 地址。
type URL struct {
	Scheme   string
	TLS      bool
	Host     string
	Port     int
	VHost    string
	Username string
	Password string

	raw *url.URL
}

// ParseURL 解析 broker URL。用户名和密码会做 URL 反转义，端口缺省时按 scheme 补齐。
func ParseURL(raw string) (URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return URL{}, xerrors.New(xerrors.CodeInvalidArgument, "broker url is empty")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return URL{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid broker url")
	}

	u := URL{raw: parsed, Host: parsed.Hostname()}
	switch strings.ToLower(parsed.Scheme) {
	case "redis":
		u.Scheme = SchemeRedis
	case "rediss":
		u.Scheme, u.TLS = SchemeRedis, true
	case "amqp", "pyamqp", "librabbitmq":
		u.Scheme = SchemeAMQP
	case "amqps":
		u.Scheme, u.TLS = SchemeAMQP, true
	case "memory":
		u.Scheme = SchemeMemory
		return u, nil
	default:
		return URL{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, parsed.Scheme)
	}

	if u.Host == "" {
		u.Host = "localhost"
	}
	if port := parsed.Port(); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil {
			return URL{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid broker port")
		}
		u.Port = n
	} else if u.Scheme == SchemeRedis {
		u.Port = defaultRedisPort
	} else {
		u.Port = defaultAMQPPort
	}

	u.VHost = strings.TrimPrefix(parsed.Path, "/")
	if parsed.User != nil {
		// url.Parse 已完成反转义
		u.Username = parsed.User.Username()
		u.Password, _ = parsed.User.Password()
	}
	return u, nil
}

// Address 返回 host:port。
func (u URL) Address() string {
	return fmt.Sprintf("%s:%d", u.Host, u.Port)
}

// RedisDB 把 vhost 映射为 Redis 数据库编号："" 或 "/" 为 0，"3" 或 "/3" 为 3。
func RedisDB(vhost string) (int, error) {
	vhost = strings.TrimSpace(vhost)
	if vhost == "" || vhost == "/" {
		return 0, nil
	}
	vhost = strings.TrimPrefix(vhost, "/")
	db, err := strconv.Atoi(vhost)
	if err != nil || db < 0 {
		return 0, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("redis database must be a non-negative integer, not %q", vhost))
	}
	return db, nil
}

// RedisOptions 构造 go-redis 的连接参数。
func (u URL) RedisOptions() (*redis.Options, error) {
	if u.Scheme != SchemeRedis {
		return nil, fmt.Errorf("%w: %q is not a redis url", ErrUnsupportedScheme, u.Scheme)
	}
	db, err := RedisDB(u.VHost)
	if err != nil {
		return nil, err
	}
	opts := &redis.Options{
		Addr:     u.Address(),
		Username: u.Username,
		Password: u.Password,
		DB:       db,
	}
	if u.TLS {
		opts.TLSConfig = &tls.Config{ServerName: u.Host, MinVersion: tls.VersionTLS12}
	}
	return opts, nil
}

// AMQPURI 返回 amqp091 可直接拨号的地址，celery 的 pyamqp 等别名被改写为 amqp。
func (u URL) AMQPURI() (string, error) {
	if u.Scheme != SchemeAMQP || u.raw == nil {
		return "", fmt.Errorf("%w: %q is not an amqp url", ErrUnsupportedScheme, u.Scheme)
	}
	clone := *u.raw
	if u.TLS {
		clone.Scheme = "amqps"
	} else {
		clone.Scheme = "amqp"
	}
	return clone.String(), nil
}
