package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jisongniu/WeChatRobot/internal/config"
	"github.com/jisongniu/WeChatRobot/internal/logger"
	"github.com/jisongniu/WeChatRobot/internal/wechat/directory"
	"github.com/jisongniu/WeChatRobot/internal/wechat/models"
)

const notionVersion = "2022-06-28"

// Notion 数据库中人工维护的属性名
const (
	propListID       = "分组编号"
	propListName     = "组名"
	propListForward  = "是否转发"
	propListDesc     = "描述"
	propGroupName    = "群名"
	propGroupWxid    = "group_wxid"
	propAllowSpeak   = "允许发言"
	propAllowForward = "允许转发"
	propWelcomeOn    = "迎新推送开关"
	propWelcomeURL   = "迎新推送链接"
	propGroupLists   = "转发群聊分组"
	propAdminName    = "昵称"
	propAdminWxid    = "wxid"
	propKeyword      = "让对方回复"
	propInviteGroups = "拉入群聊"
)

// Client 是 Notion 目录源的只读客户端。
// 目录缓存把它当作 directory.Source 使用，除 refresh 外从不触网。
type Client struct {
	baseURL      string
	token        string
	listsDBID    string
	groupsDBID   string
	adminsDBID   string
	keywordsDBID string
	httpClient   *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func WithBaseURL(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// NewClient 创建 Notion 客户端
func NewClient(cfg config.NotionConfig, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("notion token is empty")
	}
	if cfg.ListsDBID == "" || cfg.GroupsDBID == "" || cfg.AdminsDBID == "" {
		return nil, fmt.Errorf("notion database ids are incomplete")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := &Client{
		baseURL:      "https://api.notion.com/v1",
		token:        cfg.Token,
		listsDBID:    cfg.ListsDBID,
		groupsDBID:   cfg.GroupsDBID,
		adminsDBID:   cfg.AdminsDBID,
		keywordsDBID: cfg.KeywordsDBID,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// FetchDirectory 拉取完整目录数据集（群组、列表、管理员、关键词）。
// 任何一步失败都整体失败，调用方保持旧数据不动。
func (c *Client) FetchDirectory(ctx context.Context) (*directory.Dataset, error) {
	lists, listPageIDs, err := c.fetchLists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch forward lists: %w", err)
	}

	groups, groupPageWxids, err := c.fetchGroups(ctx, listPageIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch groups: %w", err)
	}

	admins, err := c.fetchAdmins(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch admins: %w", err)
	}

	var keywords []*models.Keyword
	if c.keywordsDBID != "" {
		keywords, err = c.fetchKeywords(ctx, groupPageWxids)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch keywords: %w", err)
		}
	}

	return &directory.Dataset{
		Groups:   groups,
		Lists:    lists,
		Admins:   admins,
		Keywords: keywords,
	}, nil
}

// fetchLists 返回启用转发的列表，以及 Notion 页面 ID 到 list_id 的映射
func (c *Client) fetchLists(ctx context.Context) ([]*models.ForwardList, map[string]int, error) {
	pages, err := c.queryAll(ctx, c.listsDBID, checkboxFilter(propListForward, true))
	if err != nil {
		return nil, nil, err
	}

	lists := make([]*models.ForwardList, 0, len(pages))
	pageIDs := make(map[string]int, len(pages))
	for _, p := range pages {
		listID := p.Properties[propListID].numberValue()
		name := p.Properties[propListName].titleValue()
		if listID == 0 || name == "" {
			continue
		}
		lists = append(lists, &models.ForwardList{
			ListID:      listID,
			ListName:    name,
			Description: p.Properties[propListDesc].textValue(),
		})
		pageIDs[p.ID] = listID
	}
	return lists, pageIDs, nil
}

// fetchGroups 返回所有群组，以及 Notion 页面 ID 到群 wxid 的映射
func (c *Client) fetchGroups(ctx context.Context, listPageIDs map[string]int) ([]*models.Group, map[string]string, error) {
	pages, err := c.queryAll(ctx, c.groupsDBID, nil)
	if err != nil {
		return nil, nil, err
	}

	groups := make([]*models.Group, 0, len(pages))
	pageWxids := make(map[string]string, len(pages))
	for _, p := range pages {
		wxid := p.Properties[propGroupWxid].textValue()
		name := p.Properties[propGroupName].titleValue()
		if wxid == "" {
			// 尚未绑定 wxid 的群无法投递，跳过但留痕
			if name != "" {
				logger.L().Warnf("Notion 群组 %q 缺少 group_wxid，跳过", name)
			}
			continue
		}

		var listIDs []int
		for _, rel := range p.Properties[propGroupLists].Relation {
			if listID, ok := listPageIDs[rel.ID]; ok {
				listIDs = append(listIDs, listID)
			}
		}

		groups = append(groups, &models.Group{
			Wxid:           wxid,
			Name:           name,
			AllowSpeak:     p.Properties[propAllowSpeak].Checkbox,
			AllowForward:   p.Properties[propAllowForward].Checkbox,
			WelcomeEnabled: p.Properties[propWelcomeOn].Checkbox,
			WelcomeURL:     p.Properties[propWelcomeURL].URL,
			ListIDs:        listIDs,
		})
		pageWxids[p.ID] = wxid
	}
	return groups, pageWxids, nil
}

func (c *Client) fetchAdmins(ctx context.Context) ([]*models.Admin, error) {
	pages, err := c.queryAll(ctx, c.adminsDBID, nil)
	if err != nil {
		return nil, err
	}

	admins := make([]*models.Admin, 0, len(pages))
	for _, p := range pages {
		wxid := p.Properties[propAdminWxid].textValue()
		if wxid == "" {
			continue
		}
		admins = append(admins, &models.Admin{
			Wxid: wxid,
			Name: p.Properties[propAdminName].titleValue(),
		})
	}
	return admins, nil
}

func (c *Client) fetchKeywords(ctx context.Context, groupPageWxids map[string]string) ([]*models.Keyword, error) {
	pages, err := c.queryAll(ctx, c.keywordsDBID, nil)
	if err != nil {
		return nil, err
	}

	var keywords []*models.Keyword
	for _, p := range pages {
		keyword := p.Properties[propKeyword].titleValue()
		if keyword == "" {
			continue
		}
		for _, rel := range p.Properties[propInviteGroups].Relation {
			wxid, ok := groupPageWxids[rel.ID]
			if !ok {
				continue
			}
			keywords = append(keywords, &models.Keyword{
				Keyword:   keyword,
				GroupWxid: wxid,
			})
		}
	}
	return keywords, nil
}

// queryAll 翻页拉取一个数据库的全部页面
func (c *Client) queryAll(ctx context.Context, databaseID string, filter any) ([]page, error) {
	var pages []page
	cursor := ""

	for {
		resp, err := c.query(ctx, databaseID, filter, cursor)
		if err != nil {
			return nil, err
		}
		pages = append(pages, resp.Results...)
		if !resp.HasMore || resp.NextCursor == "" {
			return pages, nil
		}
		cursor = resp.NextCursor
	}
}

func (c *Client) query(ctx context.Context, databaseID string, filter any, cursor string) (*queryResponse, error) {
	reqBody := queryRequest{
		Filter:      filter,
		StartCursor: cursor,
		PageSize:    100,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	url := fmt.Sprintf("%s/databases/%s/query", c.baseURL, databaseID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Notion-Version", notionVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("notion request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read notion response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("notion returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var result queryResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode notion response: %w", err)
	}
	return &result, nil
}
