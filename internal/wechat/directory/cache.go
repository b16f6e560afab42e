package directory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/jisongniu/WeChatRobot/internal/logger"
	"github.com/jisongniu/WeChatRobot/internal/wechat/models"
	"github.com/jisongniu/WeChatRobot/internal/wechat/repository"
)

// Dataset 一次目录同步拉取到的完整数据集
type Dataset struct {
	Groups   []*models.Group
	Lists    []*models.ForwardList
	Admins   []*models.Admin
	Keywords []*models.Keyword
}

// Source 外部目录源（Notion）。除 Refresh 外任何读取都不触网。
type Source interface {
	FetchDirectory(ctx context.Context) (*Dataset, error)
}

// Repositories 目录缓存落盘用到的各个 Repository。
// Txn 把一段写入包进一个多文档事务（mongo.Client.WithTransaction）；
// 不设置时写入按顺序直接执行。
type Repositories struct {
	Groups   repository.GroupRepository
	Lists    repository.ForwardListRepository
	Admins   repository.AdminRepository
	Keywords repository.KeywordRepository
	Welcomes repository.WelcomeMessageRepository

	Txn func(ctx context.Context, fn func(ctx context.Context) error) error
}

// inTxn 有事务跑事务，没有就直接执行
func (r Repositories) inTxn(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.Txn != nil {
		return r.Txn(ctx, fn)
	}
	return fn(ctx)
}

// ListView 菜单渲染用的列表视图
type ListView struct {
	ListID   int
	ListName string
	Groups   []*models.Group
}

// snapshot 是一份完整的只读目录数据。读方通过原子指针拿到快照，
// 刷新用整体替换（copy-and-swap），并发读永远不会看到半新半旧的数据。
type snapshot struct {
	groups   map[string]*models.Group // wxid → group
	lists    []*models.ForwardList    // 按 list_id 升序
	admins   map[string]*models.Admin // wxid → admin
	keywords map[string][]string      // 关键词 → 目标群 wxid
	welcomes map[string][]*models.WelcomeMessage
}

func emptySnapshot() *snapshot {
	return &snapshot{
		groups:   map[string]*models.Group{},
		admins:   map[string]*models.Admin{},
		keywords: map[string][]string{},
		welcomes: map[string][]*models.WelcomeMessage{},
	}
}

// Cache 目录缓存：群组、转发列表、管理员、关键词的本地副本
type Cache struct {
	source Source
	repos  Repositories

	mu   sync.Mutex // 串行化 Refresh 和其他写入
	snap atomic.Pointer[snapshot]
}

// NewCache 创建目录缓存（空数据，需要 Load 或 Refresh 填充）
func NewCache(source Source, repos Repositories) *Cache {
	c := &Cache{source: source, repos: repos}
	c.snap.Store(emptySnapshot())
	return c
}

// Load 从本地存储装载目录数据（启动时调用，不依赖 Notion 可用）
func (c *Cache) Load(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	groups, err := c.repos.Groups.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load groups: %w", err)
	}
	lists, err := c.repos.Lists.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load forward lists: %w", err)
	}
	admins, err := c.repos.Admins.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load admins: %w", err)
	}
	keywords, err := c.repos.Keywords.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load keywords: %w", err)
	}
	welcomes, err := c.repos.Welcomes.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load welcome messages: %w", err)
	}

	snap := buildSnapshot(&Dataset{Groups: groups, Lists: lists, Admins: admins, Keywords: keywords})
	for _, msg := range welcomes {
		snap.welcomes[msg.GroupWxid] = append(snap.welcomes[msg.GroupWxid], msg)
	}
	c.snap.Store(snap)

	logger.L().Infof("目录缓存装载完成: %d 群组, %d 列表, %d 管理员", len(groups), len(lists), len(admins))
	return nil
}

// Refresh 从目录源拉取全量数据并整体替换本地存储与内存快照。
// 任何一步失败都不动旧数据。
func (c *Cache) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dataset, err := c.source.FetchDirectory(ctx)
	if err != nil {
		return fmt.Errorf("directory source unavailable: %w", err)
	}

	// 四个集合在同一个事务里整体替换：任何一步失败，
	// 本地库和内存快照都保持刷新前的状态
	err = c.repos.inTxn(ctx, func(ctx context.Context) error {
		if err := c.repos.Groups.ReplaceAll(ctx, dataset.Groups); err != nil {
			return fmt.Errorf("failed to persist groups: %w", err)
		}
		if err := c.repos.Lists.ReplaceAll(ctx, dataset.Lists); err != nil {
			return fmt.Errorf("failed to persist forward lists: %w", err)
		}
		if err := c.repos.Admins.ReplaceAll(ctx, dataset.Admins); err != nil {
			return fmt.Errorf("failed to persist admins: %w", err)
		}
		if err := c.repos.Keywords.ReplaceAll(ctx, dataset.Keywords); err != nil {
			return fmt.Errorf("failed to persist keywords: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// 迎新消息是本地配置，不来自目录源，刷新时原样保留
	snap := buildSnapshot(dataset)
	snap.welcomes = c.snap.Load().welcomes
	c.snap.Store(snap)

	logger.L().Infof("目录同步完成: %d 群组, %d 列表, %d 管理员, %d 关键词",
		len(dataset.Groups), len(dataset.Lists), len(dataset.Admins), len(dataset.Keywords))
	return nil
}

func buildSnapshot(dataset *Dataset) *snapshot {
	snap := emptySnapshot()

	for _, group := range dataset.Groups {
		snap.groups[group.Wxid] = group
	}
	for _, admin := range dataset.Admins {
		snap.admins[admin.Wxid] = admin
	}
	for _, keyword := range dataset.Keywords {
		snap.keywords[keyword.Keyword] = append(snap.keywords[keyword.Keyword], keyword.GroupWxid)
	}

	lists := append([]*models.ForwardList(nil), dataset.Lists...)
	sort.Slice(lists, func(i, j int) bool { return lists[i].ListID < lists[j].ListID })
	snap.lists = lists

	return snap
}

// IsAdmin 判断 wxid 是否为管理员
func (c *Cache) IsAdmin(wxid string) bool {
	_, ok := c.snap.Load().admins[wxid]
	return ok
}

// Admins 返回所有管理员，按昵称排序
func (c *Cache) Admins() []*models.Admin {
	snap := c.snap.Load()
	admins := make([]*models.Admin, 0, len(snap.admins))
	for _, admin := range snap.admins {
		admins = append(admins, admin)
	}
	sort.Slice(admins, func(i, j int) bool { return admins[i].Name < admins[j].Name })
	return admins
}

// GroupsForList 返回指定列表中所有接收转发的群 wxid（排序保证稳定）
func (c *Cache) GroupsForList(listID int) []string {
	snap := c.snap.Load()
	var wxids []string
	for _, group := range snap.groups {
		if group.AllowForward && group.InList(listID) {
			wxids = append(wxids, group.Wxid)
		}
	}
	sort.Strings(wxids)
	return wxids
}

// AllForwardableGroups 返回全部接收转发的群 wxid，与列表归属无关
func (c *Cache) AllForwardableGroups() []string {
	snap := c.snap.Load()
	var wxids []string
	for _, group := range snap.groups {
		if group.AllowForward {
			wxids = append(wxids, group.Wxid)
		}
	}
	sort.Strings(wxids)
	return wxids
}

// ListsAndGroups 返回菜单渲染用的列表视图，按 list_id 升序
func (c *Cache) ListsAndGroups() []ListView {
	snap := c.snap.Load()
	views := make([]ListView, 0, len(snap.lists))
	for _, list := range snap.lists {
		view := ListView{ListID: list.ListID, ListName: list.ListName}
		for _, group := range snap.groups {
			if group.AllowForward && group.InList(list.ListID) {
				view.Groups = append(view.Groups, group)
			}
		}
		sort.Slice(view.Groups, func(i, j int) bool { return view.Groups[i].Wxid < view.Groups[j].Wxid })
		views = append(views, view)
	}
	return views
}

// Group 按 wxid 查群组
func (c *Cache) Group(wxid string) (*models.Group, bool) {
	group, ok := c.snap.Load().groups[wxid]
	return group, ok
}

// GroupName 返回群名，找不到时退回 wxid
func (c *Cache) GroupName(wxid string) string {
	if group, ok := c.Group(wxid); ok && group.Name != "" {
		return group.Name
	}
	return wxid
}

// AdminName 返回管理员昵称，找不到时退回 wxid
func (c *Cache) AdminName(wxid string) string {
	if admin, ok := c.snap.Load().admins[wxid]; ok && admin.Name != "" {
		return admin.Name
	}
	return wxid
}

// GroupsForKeyword 返回关键词对应的目标群 wxid 列表
func (c *Cache) GroupsForKeyword(keyword string) []string {
	return c.snap.Load().keywords[keyword]
}

// AllowSpeak 判断群是否允许机器人发言
func (c *Cache) AllowSpeak(wxid string) bool {
	group, ok := c.Group(wxid)
	return ok && group.AllowSpeak
}

// WelcomeEnabledGroups 返回启用迎新推送的群，按群名排序
func (c *Cache) WelcomeEnabledGroups() []*models.Group {
	snap := c.snap.Load()
	var groups []*models.Group
	for _, group := range snap.groups {
		if group.WelcomeEnabled {
			groups = append(groups, group)
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	return groups
}

// WelcomeMessages 返回某个群配置的迎新消息序列
func (c *Cache) WelcomeMessages(groupWxid string) []*models.WelcomeMessage {
	return c.snap.Load().welcomes[groupWxid]
}

// SetWelcomeMessages 整体替换某个群的迎新消息（先落盘，成功后换快照）
func (c *Cache) SetWelcomeMessages(ctx context.Context, groupWxid string, messages []*models.WelcomeMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.repos.inTxn(ctx, func(ctx context.Context) error {
		return c.repos.Welcomes.ReplaceForGroup(ctx, groupWxid, messages)
	})
	if err != nil {
		return err
	}

	old := c.snap.Load()
	snap := &snapshot{
		groups:   old.groups,
		lists:    old.lists,
		admins:   old.admins,
		keywords: old.keywords,
		welcomes: make(map[string][]*models.WelcomeMessage, len(old.welcomes)+1),
	}
	for wxid, msgs := range old.welcomes {
		snap.welcomes[wxid] = msgs
	}
	snap.welcomes[groupWxid] = messages
	c.snap.Store(snap)
	return nil
}

// UpdateGroupName 更新群名（群内改名触发；下次目录同步仍以 Notion 为准）
func (c *Cache) UpdateGroupName(ctx context.Context, wxid, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.repos.Groups.UpdateName(ctx, wxid, name); err != nil {
		return err
	}

	old := c.snap.Load()
	group, ok := old.groups[wxid]
	if !ok {
		return nil
	}

	snap := &snapshot{
		groups:   make(map[string]*models.Group, len(old.groups)),
		lists:    old.lists,
		admins:   old.admins,
		keywords: old.keywords,
		welcomes: old.welcomes,
	}
	for id, g := range old.groups {
		snap.groups[id] = g
	}
	renamed := *group
	renamed.Name = name
	snap.groups[wxid] = &renamed
	c.snap.Store(snap)
	return nil
}
