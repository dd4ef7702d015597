// Package crawlers 提供地点照片URL的发现功能
//
// # 概述
//
// crawlers包负责从地图页面中找出地点照片的原图地址,支持动态(go-rod)和静态(Colly)两种模式。
// 下载由 downloader 包完成,本包只产出去重后的URL列表。
//
// # 核心组件
//
// ## Classifier (URL分类器)
//
// 按主机与路径规则把候选URL分为 用户上传照片 / 街景 / 其他,
// 过滤 logo、图标、标记等非照片资源,并把缩略图参数升级为原图尺寸。
//
//	c := NewClassifier()
//	if cand, ok := c.Classify(raw); ok {
//	    fmt.Println(cand.URL)
//	}
//
// ## Accumulator (累加器)
//
// 按插入顺序保存升级后的URL,相同URL只保留一次,达到上限后拒绝新URL。
//
// ## Discoverer (动态发现器)
//
// 在浏览器页面中搜索地点、打开照片画廊、滚动并逐张点击缩略图收集URL。
// 状态依次为:
//
//	SEARCHING → FOUND → GALLERY_OPENING → GALLERY_OPEN → SCANNING → CAP_REACHED
//	                  ↘ NOT_FOUND        ↘ GALLERY_UNAVAILABLE      ↘ SCROLL_BUDGET_EXHAUSTED
//
// 画廊无法打开时直接在结果面板中扫描。
// 搜索返回结果列表且 MaxResults > 1 时,DiscoverResults 依次打开前几个结果并合并URL。
//
//	d := NewDiscoverer(cfg, NewClassifier())
//	found, err := d.Search(ctx, page, "Hồ Gươm")
//	if found {
//	    result, err := d.Discover(ctx, page, 50)
//	}
//
// ## StaticDiscoverer (静态发现器)
//
// 不启动浏览器,用Colly抓取搜索页面HTML,从内联脚本中提取图片URL。
// 结果通常比动态模式少,适合快速预览。
//
// # 并发安全
//
// Classifier 无状态,可在多个会话间共享。
// Accumulator 与 Discoverer 的一次扫描属于单个会话,不要跨goroutine共享。
//
// # 错误处理
//
//   - 搜索框或结果标识缺失: 返回 found=false,由调用方记为未找到
//   - 页面操作失败: 返回包装了原因的会话错误,已收集的URL不会被下载
//   - 取消: 所有等待都响应 ctx,返回 ctx.Err()
package crawlers
