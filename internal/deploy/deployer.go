package deploy

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"aegis/internal/logger"
)

const (
	versionsDir = "versions"
	currentFile = "current"
)

// Version 标识一次落盘的策略版本。
type Version struct {
	ID        string
	File      string
	CreatedAt time.Time
}

// Deployer 把编译产物写成带版本的文件，
// 用同目录原子重命名切换 current 指针。直接覆盖线上文件是不安全的，
// 指针 + 版本史让热切换可回滚。
type Deployer struct {
	root string
	mu   sync.Mutex
}

func NewDeployer(root string) (*Deployer, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("deployer: 根目录不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("deployer: 创建根目录失败: %w", err)
	}
	return &Deployer{root: root}, nil
}

func (d *Deployer) strategyDir(name string) string {
	return filepath.Join(d.root, name)
}

// Deploy 写入新版本并切换 current 指针，返回新版本信息。
func (d *Deployer) Deploy(name string, body []byte) (Version, error) {
	if err := checkName(name); err != nil {
		return Version{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	dir := filepath.Join(d.strategyDir(name), versionsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Version{}, fmt.Errorf("deployer: 创建版本目录失败: %w", err)
	}

	now := time.Now()
	id := uuid.NewString()
	// 文件名前缀取纳秒时间戳定宽格式，字典序即时间序。
	file := fmt.Sprintf("%020d-%s.strategy", now.UnixNano(), id)
	path := filepath.Join(dir, file)

	if err := writeFileAtomic(path, body); err != nil {
		return Version{}, err
	}
	if err := d.setPointer(name, file); err != nil {
		return Version{}, err
	}
	logger.Infof("策略 %s 部署新版本 %s", name, id)
	return Version{ID: id, File: file, CreatedAt: now}, nil
}

// Current 返回当前指针指向的版本及其内容。
func (d *Deployer) Current(name string) (Version, []byte, error) {
	if err := checkName(name); err != nil {
		return Version{}, nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	file, err := d.readPointer(name)
	if err != nil {
		return Version{}, nil, err
	}
	body, err := os.ReadFile(filepath.Join(d.strategyDir(name), versionsDir, file))
	if err != nil {
		return Version{}, nil, fmt.Errorf("deployer: 读取版本文件失败: %w", err)
	}
	return versionFromFile(file), body, nil
}

// Rollback 把 current 指针切回上一版本。只有一个版本时报错。
func (d *Deployer) Rollback(name string) (Version, error) {
	if err := checkName(name); err != nil {
		return Version{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	versions, err := d.listVersions(name)
	if err != nil {
		return Version{}, err
	}
	current, err := d.readPointer(name)
	if err != nil {
		return Version{}, err
	}
	idx := -1
	for i, v := range versions {
		if v.File == current {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return Version{}, fmt.Errorf("deployer: 策略 %s 没有可回滚的早期版本", name)
	}
	prev := versions[idx-1]
	if err := d.setPointer(name, prev.File); err != nil {
		return Version{}, err
	}
	logger.Warnf("策略 %s 回滚到版本 %s", name, prev.ID)
	return prev, nil
}

// Versions 按时间升序列出全部版本。
func (d *Deployer) Versions(name string) ([]Version, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listVersions(name)
}

func (d *Deployer) listVersions(name string) ([]Version, error) {
	dir := filepath.Join(d.strategyDir(name), versionsDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("deployer: 读取版本目录失败: %w", err)
	}
	var out []Version
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".strategy") {
			continue
		}
		out = append(out, versionFromFile(e.Name()))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].File < out[j].File })
	return out, nil
}

func (d *Deployer) setPointer(name, file string) error {
	return writeFileAtomic(filepath.Join(d.strategyDir(name), currentFile), []byte(file+"\n"))
}

func (d *Deployer) readPointer(name string) (string, error) {
	raw, err := os.ReadFile(filepath.Join(d.strategyDir(name), currentFile))
	if err != nil {
		return "", fmt.Errorf("deployer: 策略 %s 没有 current 指针: %w", name, err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func versionFromFile(file string) Version {
	v := Version{File: file}
	base := strings.TrimSuffix(file, ".strategy")
	if i := strings.IndexByte(base, '-'); i > 0 {
		var nanos int64
		if _, err := fmt.Sscanf(base[:i], "%d", &nanos); err == nil {
			v.CreatedAt = time.Unix(0, nanos)
		}
		v.ID = base[i+1:]
	}
	return v
}

// writeFileAtomic 先写同目录临时文件再重命名，读者永远看不到半截文件。
func writeFileAtomic(path string, body []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("deployer: 创建临时文件失败: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return fmt.Errorf("deployer: 写入临时文件失败: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("deployer: 刷盘失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("deployer: 关闭临时文件失败: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("deployer: 原子替换失败: %w", err)
	}
	return nil
}

func checkName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\.`) {
		return fmt.Errorf("deployer: 非法策略名 %q", name)
	}
	return nil
}
