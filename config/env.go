package config

import "os"

// applyServerEnvOverrides lets environment variables override any
// file-loaded or default server setting; environment variables win.
func applyServerEnvOverrides(cfg *ServerConfig) {
	if v := os.Getenv("CHAT_SERVER_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("CHAT_USERS_DB_PATH"); v != "" {
		cfg.UsersDBPath = v
	}
	if v := os.Getenv("CHAT_CHATS_DB_PATH"); v != "" {
		cfg.ChatsDBPath = v
	}
	if v := os.Getenv("CHAT_CHATS_DIR"); v != "" {
		cfg.ChatsDir = v
	}
	if v := os.Getenv("CHAT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CHAT_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
}

// applyClientEnvOverrides is the client-side equivalent.
func applyClientEnvOverrides(cfg *ClientConfig) {
	if v := os.Getenv("CHAT_SERVER_URL"); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv("CHAT_KEYSTORE_PATH"); v != "" {
		cfg.KeyStorePath = v
	}
	if v := os.Getenv("CHAT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}
