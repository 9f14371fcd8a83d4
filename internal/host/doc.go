// Package host 提供 worker 在 Go 进程中运行时所需的宿主侧协作者：
// 被控制的页面实例集合与通知中心。它们只保存内存状态，供 /-/sw/* 诊断接口查询。
package host
