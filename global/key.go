package global

// 所有共享状态都挂在实例 ID 命名空间下：iid:<INSTANCE_ID>;room:<room>[;suffix]

// RoomChannelKey 房间的 pub/sub 频道
func RoomChannelKey(instanceID, room string) string {
	return "iid:" + instanceID + ";room:" + room
}

// RoomNbUsersKey 在线人数计数器
func RoomNbUsersKey(instanceID, room string) string {
	return RoomChannelKey(instanceID, room) + ";nb_users"
}

// RoomRegisteredUsersKey 已注册昵称列表
func RoomRegisteredUsersKey(instanceID, room string) string {
	return RoomChannelKey(instanceID, room) + ";registered_users"
}

// RoomLastMessagesKey 历史消息（新消息在表头）
func RoomLastMessagesKey(instanceID, room string) string {
	return RoomChannelKey(instanceID, room) + ";last_messages"
}

// MatrixRequestKey Matrix 桥接注册请求
func MatrixRequestKey(instanceID, requestID string) string {
	return "iid:" + instanceID + ";matrix_request:" + requestID
}
