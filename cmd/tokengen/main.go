// Package main 为运维调用方签发 access token。
package main

import (
	"flag"
	"fmt"
	"os"
	"upload-validator-go/internal/config"
	"upload-validator-go/pkg/token"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "配置文件路径")
	operator := flag.String("operator", "", "调用方名称")
	role := flag.String("role", token.RoleWorker, "调用方角色 (ADMIN / WORKER)")
	flag.Parse()

	if *operator == "" {
		fmt.Fprintln(os.Stderr, "必须指定 -operator")
		os.Exit(2)
	}
	if *role != token.RoleAdmin && *role != token.RoleWorker {
		fmt.Fprintf(os.Stderr, "未知角色 %q\n", *role)
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	signed, err := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours).GenerateToken(*operator, *role)
	if err != nil {
		fmt.Fprintf(os.Stderr, "签发 token 失败: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(signed)
}
