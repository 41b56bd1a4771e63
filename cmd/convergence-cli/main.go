// Package main 收敛引擎命令行：导航、语料分析、集合信息与缓存清理
package main

import (
	"os"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
