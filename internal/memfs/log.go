package memfs

import "go.uber.org/zap"

func fieldOp(op string) zap.Field       { return zap.String("op", op) }
func fieldPath(path string) zap.Field   { return zap.String("path", path) }
func fieldFD(fd int) zap.Field          { return zap.Int("fd", fd) }
func fieldUID(uid uint32) zap.Field     { return zap.Uint32("uid", uid) }
func fieldIno(ino uint64) zap.Field     { return zap.Uint64("ino", ino) }
func fieldString(k, v string) zap.Field { return zap.String(k, v) }
func fieldBool(k string, v bool) zap.Field {
	return zap.Bool(k, v)
}
