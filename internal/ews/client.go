package ews

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Azure/go-ntlmssp"
	"github.com/beevik/etree"
	"go.uber.org/zap"

	"mailwatcher/internal/model"
	"mailwatcher/pkg/metrics"
	"mailwatcher/pkg/trace"
)

const (
	defaultVersion  = "Exchange2013"
	defaultPageSize = 20
	defaultTimeout  = 60 * time.Second
	maxResponseSize = 16 << 20
)

// Config 邮件服务器连接参数
type Config struct {
	URL         string        `yaml:"url"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	Domain      string        `yaml:"domain"`      // 可选，NTLM 域
	Workstation string        `yaml:"workstation"` // 可选，仅用于日志
	CAFile      string        `yaml:"ca_file"`     // 可选，额外信任的 CA（PEM）
	Version     string        `yaml:"version"`
	PageSize    int           `yaml:"page_size"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Client 通过 SOAP/HTTP + NTLM 与 Exchange 交互；除凭证外无状态
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// Option 定制 Client
type Option func(*clientOptions)

type clientOptions struct {
	base http.RoundTripper
}

// WithBaseTransport 替换 NTLM 协商器下面的传输层（测试用）
func WithBaseTransport(rt http.RoundTripper) Option {
	return func(o *clientOptions) { o.base = rt }
}

func NewClient(cfg Config, logger *zap.Logger, opts ...Option) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("ews: url is required")
	}
	if cfg.Version == "" {
		cfg.Version = defaultVersion
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.base == nil {
		tlsCfg, err := tlsConfig(cfg.CAFile)
		if err != nil {
			return nil, err
		}
		o.base = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			TLSClientConfig:     tlsCfg,
			TLSHandshakeTimeout: 10 * time.Second,
			MaxIdleConnsPerHost: 2,
		}
	}

	logger.Info("EWS client configured",
		zap.String("url", cfg.URL),
		zap.String("user", cfg.Username),
		zap.String("domain", cfg.Domain),
		zap.String("workstation", cfg.Workstation),
		zap.String("version", cfg.Version),
	)

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Transport: ntlmssp.Negotiator{RoundTripper: o.base},
			Timeout:   cfg.Timeout,
		},
		logger: logger,
	}, nil
}

// tlsConfig 始终校验服务器证书；caFile 追加到系统根证书
func tlsConfig(caFile string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caFile == "" {
		return cfg, nil
	}

	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("ews: read ca file: %w", err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("ews: no certificates found in %s", caFile)
	}
	cfg.RootCAs = pool
	return cfg, nil
}

// username NTLM 的 DOMAIN\user 形式
func (c *Client) username() string {
	if c.cfg.Domain == "" || strings.Contains(c.cfg.Username, `\`) {
		return c.cfg.Username
	}
	return c.cfg.Domain + `\` + c.cfg.Username
}

// Do 发送 SOAP 请求，返回响应的 soap:Body 元素。所有操作共用此方法
func (c *Client) Do(ctx context.Context, op string, doc *etree.Document) (*etree.Element, error) {
	start := time.Now()
	body, err := c.do(ctx, op, doc)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordEWSCallLatency(op, status, time.Since(start))
	return body, err
}

func (c *Client) do(ctx context.Context, op string, doc *etree.Document) (*etree.Element, error) {
	payload, err := doc.WriteToBytes()
	if err != nil {
		return nil, &ProtocolError{Op: op, Err: fmt.Errorf("encode request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, &ProtocolError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("Accept", "text/xml")
	req.Header.Set("SOAPAction", "http://schemas.microsoft.com/exchange/services/2006/messages/"+op)
	if id := trace.FromContext(ctx); id != "" {
		req.Header.Set(trace.HeaderName(), id)
	}
	// Negotiator 从 Basic 凭证中取出用户名/密码做 NTLM 握手
	req.SetBasicAuth(c.username(), c.cfg.Password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ProtocolError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &ProtocolError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, &ProtocolError{Op: op, Status: resp.StatusCode, Err: ErrUnauthorized}
	}

	soap, parseErr := soapBody(data)
	if resp.StatusCode != http.StatusOK {
		perr := &ProtocolError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("unexpected status %s", resp.Status)}
		if parseErr == nil {
			if code, msg, ok := soapFault(soap); ok {
				perr.Code, perr.Msg = code, msg
				if sentinel := responseCodeErr(code); sentinel != nil {
					perr.Err = sentinel
				}
			}
		}
		return nil, perr
	}
	if parseErr != nil {
		return nil, &ProtocolError{Op: op, Status: resp.StatusCode, Err: parseErr}
	}
	if code, msg, ok := soapFault(soap); ok {
		return nil, &ProtocolError{Op: op, Status: resp.StatusCode, Code: code, Msg: msg, Err: errors.New("soap fault")}
	}
	return soap, nil
}

// FindUnread 查询文件夹中的未读邮件（最多 PageSize 条）。没有匹配时返回空切片
func (c *Client) FindUnread(ctx context.Context, folder string) ([]model.MessageCandidate, error) {
	ref, err := c.resolveFolder(ctx, folder)
	if err != nil {
		return nil, err
	}

	body, err := c.Do(ctx, "FindItem", findUnreadRequest(c.cfg.Version, ref, c.cfg.PageSize))
	if err != nil {
		return nil, err
	}
	msg, err := responseMessage("FindItem", body)
	if err != nil {
		return nil, err
	}
	return parseCandidates(msg)
}

// resolveFolder distinguished 名直接使用，其它名字每次调用都通过 FindFolder 解析
func (c *Client) resolveFolder(ctx context.Context, folder string) (folderRef, error) {
	if ref, ok := distinguishedFolder(folder); ok {
		return ref, nil
	}

	body, err := c.Do(ctx, "FindFolder", findFolderRequest(c.cfg.Version, folder))
	if err != nil {
		return folderRef{}, err
	}
	msg, err := responseMessage("FindFolder", body)
	if err != nil {
		return folderRef{}, err
	}
	return parseFolder(msg, folder)
}

// GetDetail 获取单封邮件的完整属性（纯文本正文）
func (c *Client) GetDetail(ctx context.Context, id, changeKey string) (model.MessageDetail, error) {
	body, err := c.Do(ctx, "GetItem", getItemRequest(c.cfg.Version, id, changeKey))
	if err != nil {
		return model.MessageDetail{}, err
	}
	msg, err := responseMessage("GetItem", body)
	if err != nil {
		return model.MessageDetail{}, err
	}
	return parseDetail(msg)
}

// MarkRead 把邮件标记为已读
func (c *Client) MarkRead(ctx context.Context, id, changeKey string) error {
	body, err := c.Do(ctx, "UpdateItem", markReadRequest(c.cfg.Version, id, changeKey))
	if err != nil {
		return err
	}
	_, err = responseMessage("UpdateItem", body)
	return err
}
