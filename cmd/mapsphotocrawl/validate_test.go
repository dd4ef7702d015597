package main

import (
	"testing"
	"time"
)

func TestValidateFlags(t *testing.T) {
	tests := []struct {
		name        string
		location    string
		file        string
		maxImages   int
		retries     int
		workers     int
		concurrency int
		timeout     time.Duration
		mode        string
		wantErr     bool
	}{
		{name: "全部默认", location: "Hồ Gươm"},
		{name: "完整参数", location: "Hồ Gươm", maxImages: 50, retries: 5, workers: 4, timeout: 5 * time.Second, mode: "static"},
		{name: "批量文件", file: "locations.txt", concurrency: 3, mode: "serpapi"},
		{name: "Apify 模式", location: "Hồ Gươm", mode: "apify"},
		{name: "Outscraper 模式", location: "Hồ Gươm", mode: "outscraper"},
		{name: "同时指定地点与文件", location: "a", file: "b", wantErr: true},
		{name: "空白地点", location: "   ", wantErr: true},
		{name: "图片数过大", location: "a", maxImages: 5000, wantErr: true},
		{name: "重试次数为负", location: "a", retries: -1, wantErr: true},
		{name: "下载并发过大", location: "a", workers: 64, wantErr: true},
		{name: "超时为负", location: "a", timeout: -time.Second, wantErr: true},
		{name: "未知模式", location: "a", mode: "all", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFlags(tt.location, tt.file, tt.maxImages, tt.retries, tt.workers, tt.concurrency, tt.timeout, tt.mode)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateRouteFlags(t *testing.T) {
	if err := ValidateRouteFlags("a", "b", "c"); err != nil {
		t.Errorf("ValidateRouteFlags() error = %v", err)
	}
	if err := ValidateRouteFlags("a", " ", ""); err == nil {
		t.Error("缺少地址时应当返回错误")
	}
}
