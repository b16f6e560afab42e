package notion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jisongniu/WeChatRobot/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func title(text string) property {
	return property{Type: "title", Title: []richText{{PlainText: text}}}
}

func rich(text string) property {
	return property{Type: "rich_text", RichText: []richText{{PlainText: text}}}
}

func number(n float64) property {
	return property{Type: "number", Number: &n}
}

func checkbox(v bool) property {
	return property{Type: "checkbox", Checkbox: v}
}

func relations(ids ...string) property {
	p := property{Type: "relation"}
	for _, id := range ids {
		p.Relation = append(p.Relation, relationRef{ID: id})
	}
	return p
}

// fakeNotion 按数据库 ID 返回固定页面，lists 库分两页验证翻页
type fakeNotion struct {
	srv      *httptest.Server
	requests int
}

func newFakeNotion(t *testing.T) *fakeNotion {
	t.Helper()
	f := &fakeNotion{}
	mux := http.NewServeMux()

	mux.HandleFunc("/databases/lists-db/query", func(w http.ResponseWriter, r *http.Request) {
		f.requests++
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		require.Equal(t, notionVersion, r.Header.Get("Notion-Version"))

		var req queryRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.Filter, "lists query must filter on forward checkbox")

		if req.StartCursor == "" {
			writeJSON(w, queryResponse{
				Results: []page{{
					ID: "page-list-2",
					Properties: map[string]property{
						propListID:      number(2),
						propListName:    title("社区公告"),
						propListForward: checkbox(true),
						propListDesc:    rich("全量公告"),
					},
				}},
				HasMore:    true,
				NextCursor: "cursor-2",
			})
			return
		}
		require.Equal(t, "cursor-2", req.StartCursor)
		writeJSON(w, queryResponse{
			Results: []page{{
				ID: "page-list-3",
				Properties: map[string]property{
					propListID:      number(3),
					propListName:    title("活动通知"),
					propListForward: checkbox(true),
				},
			}},
		})
	})

	mux.HandleFunc("/databases/groups-db/query", func(w http.ResponseWriter, r *http.Request) {
		f.requests++
		writeJSON(w, queryResponse{
			Results: []page{
				{
					ID: "page-g1",
					Properties: map[string]property{
						propGroupName:    title("开发群"),
						propGroupWxid:    rich("g1@chatroom"),
						propAllowSpeak:   checkbox(true),
						propAllowForward: checkbox(true),
						propGroupLists:   relations("page-list-2", "page-list-3"),
					},
				},
				{
					ID: "page-g2",
					Properties: map[string]property{
						propGroupName:  title("未绑定群"),
						propWelcomeOn:  checkbox(true),
						propWelcomeURL: {Type: "url", URL: "https://mp.weixin.qq.com/s/x"},
					},
				},
			},
		})
	})

	mux.HandleFunc("/databases/admins-db/query", func(w http.ResponseWriter, r *http.Request) {
		f.requests++
		writeJSON(w, queryResponse{
			Results: []page{{
				ID: "page-a1",
				Properties: map[string]property{
					propAdminName: title("管理员A"),
					propAdminWxid: rich("wxid_admin"),
				},
			}},
		})
	})

	mux.HandleFunc("/databases/keywords-db/query", func(w http.ResponseWriter, r *http.Request) {
		f.requests++
		writeJSON(w, queryResponse{
			Results: []page{{
				ID: "page-k1",
				Properties: map[string]property{
					propKeyword:      title("加入社区"),
					propInviteGroups: relations("page-g1", "page-unknown"),
				},
			}},
		})
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func testConfig() config.NotionConfig {
	return config.NotionConfig{
		Token:        "test-token",
		ListsDBID:    "lists-db",
		GroupsDBID:   "groups-db",
		AdminsDBID:   "admins-db",
		KeywordsDBID: "keywords-db",
		Timeout:      5 * time.Second,
	}
}

func TestClientFetchDirectory(t *testing.T) {
	fake := newFakeNotion(t)
	client, err := NewClient(testConfig(), WithBaseURL(fake.srv.URL))
	require.NoError(t, err)

	dataset, err := client.FetchDirectory(context.Background())
	require.NoError(t, err)

	// 列表翻页合并
	require.Len(t, dataset.Lists, 2)
	assert.Equal(t, 2, dataset.Lists[0].ListID)
	assert.Equal(t, "社区公告", dataset.Lists[0].ListName)
	assert.Equal(t, "全量公告", dataset.Lists[0].Description)
	assert.Equal(t, 3, dataset.Lists[1].ListID)

	// 缺少 wxid 的群被跳过，关系解析成 list_id
	require.Len(t, dataset.Groups, 1)
	group := dataset.Groups[0]
	assert.Equal(t, "g1@chatroom", group.Wxid)
	assert.True(t, group.AllowForward)
	assert.ElementsMatch(t, []int{2, 3}, group.ListIDs)

	require.Len(t, dataset.Admins, 1)
	assert.Equal(t, "wxid_admin", dataset.Admins[0].Wxid)

	// 未知关系页被忽略
	require.Len(t, dataset.Keywords, 1)
	assert.Equal(t, "加入社区", dataset.Keywords[0].Keyword)
	assert.Equal(t, "g1@chatroom", dataset.Keywords[0].GroupWxid)
}

func TestClientFetchDirectoryServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"message":"rate limited"}`)
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(testConfig(), WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = client.FetchDirectory(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(config.NotionConfig{})
	assert.Error(t, err)

	cfg := testConfig()
	cfg.GroupsDBID = ""
	_, err = NewClient(cfg)
	assert.Error(t, err)
}
